package querycache

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"

	"github.com/mmdatafocus/tradedocs/models"
)

type ErrorClass string

const (
	ClassAuth      ErrorClass = "auth"
	ClassClient    ErrorClass = "client"
	ClassTransient ErrorClass = "transient"
	ClassUnknown   ErrorClass = "unknown"
)

// statusCoder is implemented by transport errors that carry an HTTP status.
type statusCoder interface {
	HTTPStatus() int
}

// transient is implemented by errors that know they are worth retrying.
type transient interface {
	Transient() bool
}

// Classify maps an error to its retry class. Rules are evaluated in order and the first match wins.
func Classify(err error) ErrorClass {
	if err == nil {
		return ""
	}
	status := 0
	var sc statusCoder
	if errors.As(err, &sc) {
		status = sc.HTTPStatus()
	}
	msg := err.Error()

	if status == http.StatusUnauthorized || strings.Contains(msg, "Unauthorized") {
		return ClassAuth
	}

	switch status {
	case http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound:
		return ClassClient
	}
	if models.IsNotAllowed(err) || models.IsValidationError(err) {
		return ClassClient
	}

	switch status {
	case http.StatusInternalServerError, http.StatusBadGateway, http.StatusServiceUnavailable:
		return ClassTransient
	}
	if isNetworkError(err) {
		return ClassTransient
	}
	return ClassUnknown
}

func isNetworkError(err error) bool {
	var t transient
	if errors.As(err, &t) {
		return t.Transient()
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	lower := strings.ToLower(err.Error())
	for _, marker := range []string{"network", "connection", "failed to fetch", "fetch failed"} {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}
