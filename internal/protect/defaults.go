// Package protect decides which repository paths generated code may not touch.
package protect

// DefaultPatterns defines glob patterns for protected areas.
var DefaultPatterns = []string{
	".git/**",
	"**/.ssh/**",
	"**/secrets/**",
	"**/credentials/**",
	"**/certs/**",
	"**/.aws/**",
}

// DefaultFileTypes defines file extensions that are protected.
var DefaultFileTypes = []string{
	".env",
	".pem",
	".key",
	".p12",
	".pfx",
	".jks",
	".keystore",
	".crt",
	".cer",
}
