// Package rabbitmq ships instrumentation diagnostics to RabbitMQ.
package rabbitmq
