// Package adapter contains implementations of interfaces defined in app.
// DynamoDB, Redis, Kafka and SNS adapters live here.
package adapter

import "go.opentelemetry.io/otel"

var tracer = otel.Tracer("otpauth/adapter")
