// Package port is the HTTP boundary of the otp-auth service. Handlers decode
// and validate requests, call the app layer, and render the
// {success, data|error} envelope. Status codes come from errmap.
package port
