// Package messaging provides goIdentity.MessagingGateway implementations.
//
// Router picks the email or SMS gateway by recipient and applies the shared
// recipient check. SMTPGateway and HTTPSMSGateway deliver directly,
// KafkaGateway hands messages to a notification service, Fanout sends to
// several gateways at once and LogGateway writes messages to a zap logger
// for local development.
//
// Gateways report missing settings with goIdentity.ErrGatewayMisconfigured
// and unusable recipients with goIdentity.ErrInvalidRecipient. A delivery
// the remote side refused is an unsuccessful DeliveryResult, not an error.
package messaging
