package flow

import (
	"fmt"
	"strings"

	"github.com/BTreeMap/ShopPipe/internal/catalog"
	"github.com/BTreeMap/ShopPipe/internal/models"
)

// Fixed customer-facing texts.
const (
	ErrorReply          = "An error occurred while processing your message. Please try again later."
	MediaFailedReply    = "Sorry, I couldn't process this media. Could you try another way?"
	PhotoPrompt         = "Please send a photo of the sneaker you want to identify."
	BrowseFailedReply   = "Sorry, I had a problem showing the new arrivals. Could you try again?"
	SubmenuPrompt       = "These are some of our current highlights! Did you like any model?\n➡️ Type *1* to talk to an agent.\n➡️ Type *0* to go back to the main menu.\n\nIf you want more options or are looking for a specific model, I can help with that too! 😊"
	SubmenuInvalid      = "Please choose a valid option:\n➡️ *1* to talk to an agent.\n➡️ *0* to go back to the main menu."
	AskModel            = "Please tell me the sneaker model you want to buy:"
	AskSize             = "Which size would you like?"
	AskColor            = "Which color do you prefer?"
	OrderFailedReply    = "Sorry, something went wrong while processing your order. Let's start over."
	NotInStockReply     = "Unfortunately that product is not in stock. Would you like to see other available models?"
	InvalidImageReply   = "The image seems to be corrupted. Could you send another one?"
	NoAnalysisReply     = "I couldn't analyse the image. Could you send a clearer photo of the sneaker?"
	AnalysisFailedReply = "An error occurred while analysing the image. Could you send a new photo or describe the sneaker you are looking for?"
)

// defaultCustomerName addresses customers whose display name is unknown.
const defaultCustomerName = "customer"

// Menu keywords, matched against the lower-cased trimmed body.
var (
	photoKeywords  = []string{"send photo", "enviar foto"}
	browseKeywords = []string{"new arrivals", "novidade"}
	orderKeywords  = []string{"place order", "fazer pedido", "buy", "comprar"}
	agentKeywords  = []string{"agent", "atendente"}
)

// WelcomeMenu renders the main menu.
func WelcomeMenu(storeName, customerName string) string {
	if customerName == "" {
		customerName = defaultCustomerName
	}
	return fmt.Sprintf("Hello! Welcome *%s* to %s! 😊\n\n"+
		"To make things easier, type the number of the option you want:\n"+
		"*1* - See new arrivals\n"+
		"*2* - Send a photo of the sneaker\n"+
		"*3* - Place an order\n"+
		"*4* - Talk to an agent", customerName, storeName)
}

// BrowseIntro opens a catalog browse.
func BrowseIntro(storeName string) string {
	return fmt.Sprintf("Check out the latest arrivals at %s! We have plenty of news for you. I'll show you each product one by one.", storeName)
}

// HandoffGreeting is sent by the agent persona when a customer is handed over.
func HandoffGreeting(agentName string) string {
	return fmt.Sprintf("Hi! I'm *%s*, can I help you with your order?", agentName)
}

// ProductCaption describes a browsed product.
func ProductCaption(p catalog.Product) string {
	return fmt.Sprintf("%s\nSee it here: %s", p.Description, p.Link)
}

// FoundReply announces an identified product.
func FoundReply(p catalog.Product) string {
	return fmt.Sprintf("%s identified. Available in stock! Check the catalog: %s", p.Name, p.Link)
}

// OrderSummary confirms a completed order to the customer.
func OrderSummary(o models.Order) string {
	return fmt.Sprintf("*Your order summary:*\n\n"+
		"📦 *Product:* %s\n"+
		"📏 *Size:* %s\n"+
		"🎨 *Color:* %s\n\n"+
		"Your order has been registered! An agent will contact you soon.", o.Model, o.Size, o.Color)
}

// normalize lower-cases and trims a message body for matching.
func normalize(body string) string {
	return strings.ToLower(strings.TrimSpace(body))
}

// choice reports whether text selects option or mentions any keyword.
func choice(text, option string, keywords []string) bool {
	if text == option {
		return true
	}
	for _, k := range keywords {
		if strings.Contains(text, k) {
			return true
		}
	}
	return false
}
