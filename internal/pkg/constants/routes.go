package constants

// Static route constants
const (
	PublicRoute          = "/"
	CheckoutRoute        = "/checkout"
	PaymentCallbackRoute = "/payment/callback"
	PaymentWebhookRoute  = "/payment/webhook"
	PaymentSuccessRoute  = "/payment/success"
	PaymentFailedRoute   = "/payment/failed"
)
