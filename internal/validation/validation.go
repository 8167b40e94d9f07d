// Package validation rejects malformed input before any provider is called.
package validation

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/gin-gonic/gin"

	"github.com/mbd888/walletrisk/internal/risk"
)

// MaxRequestSize is the maximum request body size (1MB)
const MaxRequestSize = 1 << 20

// MinAddressLength is the shortest input accepted as an address. No checksum
// or chain-specific format check is performed beyond this.
const MinAddressLength = 6

// ErrInvalidAddress is wrapped by every AddressError.
var ErrInvalidAddress = errors.New("invalid address")

// AddressError explains why an input was rejected.
type AddressError struct {
	Reason string
}

func (e *AddressError) Error() string {
	return fmt.Sprintf("%s: %s", ErrInvalidAddress, e.Reason)
}

func (e *AddressError) Unwrap() error { return ErrInvalidAddress }

// ParseAddress validates raw input (typically a decoded JSON value) and
// returns the normalized address.
func ParseAddress(input any) (risk.Address, error) {
	if input == nil {
		return "", &AddressError{Reason: "address is required"}
	}
	s, ok := input.(string)
	if !ok {
		return "", &AddressError{Reason: "address must be a string"}
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return "", &AddressError{Reason: "address is required"}
	}
	if utf8.RuneCountInString(s) < MinAddressLength {
		return "", &AddressError{Reason: fmt.Sprintf("address must be at least %d characters", MinAddressLength)}
	}
	return risk.NormalizeAddress(s), nil
}

// AddressRequest is the body accepted by every analyze/screen endpoint.
// Address is untyped so that non-string values can be rejected explicitly.
type AddressRequest struct {
	Address any `json:"address"`
}

// BindAddress decodes an AddressRequest and validates it. On failure it
// writes a 400 response and returns false.
func BindAddress(c *gin.Context) (risk.Address, bool) {
	var req AddressRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "Invalid address"})
			return "", false
		}
	}
	addr, err := ParseAddress(req.Address)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid address",
			"message": err.Error(),
		})
		return "", false
	}
	return addr, true
}

// RequestSizeMiddleware limits request body size
func RequestSizeMiddleware(maxSize int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxSize)
		c.Next()
	}
}

const addressKey = "address"

// AddressParamMiddleware validates the :address URL parameter and stores the
// normalized value for AddressParam.
func AddressParamMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		addr, err := ParseAddress(c.Param("address"))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
				"error":   "Invalid address",
				"message": err.Error(),
			})
			return
		}
		c.Set(addressKey, addr)
		c.Next()
	}
}

// AddressParam returns the address stored by AddressParamMiddleware.
func AddressParam(c *gin.Context) (risk.Address, bool) {
	addr, ok := c.Get(addressKey)
	if !ok {
		return "", false
	}
	a, ok := addr.(risk.Address)
	return a, ok
}
