// Package rabbitmq holds the broker plumbing shared by the RabbitMQ
// transports: bounded dialing, exchange declaration and the typed errors
// they report. URLs in errors and logs never carry passwords.
package rabbitmq
