package bot

import (
	"fmt"
	"time"

	"github.com/wolfman30/care-whatsapp-bot/internal/auth"
)

const (
	textOnly = "📝 I can only read text messages for now.\nType `help` to see what I can do."

	textPleaseLogin = "🔐 Please log in to use this command.\nType `login` to get started."

	textGenericError = "Sorry, something went wrong while processing your request. " +
		"Try again or type `help`."

	textUnknownCommand = "❓ I didn't understand that command. " +
		"Type `help` or `menu` for options."

	textUnknownAccount = "❓ We couldn't identify your account type.\n" +
		"Please contact your healthcare provider for support."

	textNotRegistered = "❌ This phone number is not registered with CARE.\n\n" +
		"Please contact your healthcare provider to register your number, then type `login` again."

	textVerifyFailed = "❌ Invalid or expired code.\n" +
		"Please check the code and try again, or type `login` to get a new one."

	textOTPSendFailed = "⚠️ We couldn't send your verification code right now.\n" +
		"Please try again in a moment by typing `login`."

	textLoggedOut = "👋 You have been logged out.\nType `login` whenever you want to sign in again."

	textTips = "💡 *Tips:*\n" +
		"• Type `menu` anytime to see your options\n" +
		"• Type `help` for detailed help\n" +
		"• Type `logout` when you're done"
)

func textOTPSent(ttl time.Duration) string {
	return fmt.Sprintf("📱 A verification code has been sent to your phone by SMS.\n\n"+
		"Reply with the 6-digit code to log in. It is valid for %d minutes.", minutes(ttl))
}

func textRateLimited(window time.Duration) string {
	return fmt.Sprintf("⏳ Too many incorrect attempts.\n"+
		"Please wait %d minutes before requesting a new code.", minutes(window))
}

func textWelcomeBack(name string) string {
	if name == "" {
		return "👋 Welcome back! You're already logged in."
	}
	return fmt.Sprintf("👋 Welcome back, %s! You're already logged in.", name)
}

func textLoginSuccess(name string, sessionTTL time.Duration) string {
	greeting := "🎉 *Login successful!*"
	if name != "" {
		greeting = fmt.Sprintf("🎉 *Login successful!* Welcome, %s.", name)
	}
	return fmt.Sprintf("%s\n\nYour session is valid for %d hours.", greeting, int(sessionTTL.Hours()))
}

func minutes(d time.Duration) int {
	return int(d.Round(time.Minute).Minutes())
}

const anonymousHelp = "🏥 *CARE WhatsApp Bot Help*\n\n" +
	"Welcome! I'm here to help you access your healthcare information.\n\n" +
	"*Getting Started:*\n" +
	"• Type `login` to sign in\n" +
	"• Enter the 6-digit code sent to your phone\n\n" +
	"*Need Help?*\n" +
	"Contact your healthcare provider for registration or support."

const anonymousMenu = "🏥 *CARE WhatsApp Bot*\n\n" +
	"Please log in to access the menu.\n\n" +
	"Type `login` to get started."

const patientMenu = "👤 *Patient Menu*\n\n" +
	"What would you like to do?\n\n" +
	"📋 `records` - View medical records\n" +
	"💊 `medications` - View current medications\n" +
	"📅 `appointments` - View upcoming appointments\n" +
	"🏥 `procedures` - View recent procedures\n" +
	"🗓️ `available slots` - Check available appointment slots\n" +
	"📞 `book appointment` - Book a new appointment\n\n" +
	"ℹ️ `help` - Get help\n" +
	"🚪 `logout` - Sign out"

const staffMenu = "👨‍⚕️ *Hospital Staff Menu*\n\n" +
	"What would you like to do?\n\n" +
	"🔍 `search patient <name>` - Search for a patient\n" +
	"👤 `patient info <id>` - Get patient information\n" +
	"📅 `schedule appointment` - Schedule appointment\n\n" +
	"ℹ️ `help` - Get help\n" +
	"🚪 `logout` - Sign out"

const patientHelp = "👤 *Patient Help*\n\n" +
	"*Available Commands:*\n" +
	"• `records` - View your medical records and history\n" +
	"• `medications` - See your current medications and dosages\n" +
	"• `appointments` - Check upcoming appointments\n" +
	"• `procedures` - View recent medical procedures\n" +
	"• `available slots` - Check available appointment slots\n" +
	"• `book appointment` - Book a new appointment\n" +
	"• `menu` - Show main menu\n" +
	"• `logout` - Sign out of the bot\n\n" +
	"*Privacy & Security:*\n" +
	"• Your data is encrypted and secure\n" +
	"• Only you can access your information\n" +
	"• Sessions expire after 24 hours\n\n" +
	"*Need Support?*\n" +
	"Contact your healthcare provider for assistance."

const staffHelp = "👨‍⚕️ *Hospital Staff Help*\n\n" +
	"*Available Commands:*\n" +
	"• `search patient <name>` - Find patients by name\n" +
	"• `patient info <id>` - Get detailed patient information\n" +
	"• `schedule appointment` - Schedule new appointments\n" +
	"• `menu` - Show main menu\n" +
	"• `logout` - Sign out of the bot\n\n" +
	"*Privacy Guidelines:*\n" +
	"• Only access patient data when necessary\n" +
	"• Do not share patient information via WhatsApp\n" +
	"• Use secure channels for sensitive data\n\n" +
	"*Examples:*\n" +
	"• `search patient John Doe`\n" +
	"• `patient info P123456`\n\n" +
	"*Need Support?*\n" +
	"Contact IT support for technical assistance."

// MenuText returns the menu for a role.
func MenuText(kind auth.UserKind) string {
	switch kind {
	case auth.KindPatient:
		return patientMenu
	case auth.KindStaff:
		return staffMenu
	default:
		return "Menu not available for your account type."
	}
}

// HelpText returns the help for a role.
func HelpText(kind auth.UserKind) string {
	switch kind {
	case auth.KindPatient:
		return patientHelp
	case auth.KindStaff:
		return staffHelp
	default:
		return "Help not available for your account type."
	}
}
