package domain

import (
	"net/http"
	"strings"
)

// SignatureHeaders are the transmission headers the processor attaches to
// every signed notification.
var SignatureHeaders = []string{
	"paypal-auth-algo",
	"paypal-cert-url",
	"paypal-transmission-id",
	"paypal-transmission-sig",
	"paypal-transmission-time",
}

// MissingSignatureHeaders lists the transmission headers absent from headers.
func MissingSignatureHeaders(headers http.Header) []string {
	var missing []string
	for _, name := range SignatureHeaders {
		if strings.TrimSpace(headers.Get(name)) == "" {
			missing = append(missing, name)
		}
	}
	return missing
}
