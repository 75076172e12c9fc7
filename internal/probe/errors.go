package probe

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net"
	"os"
	"syscall"

	"github.com/1broseidon/beacon/pkg/models"
)

// Failure classes reported with down outcomes
const (
	ClassTimeout     = "timeout"
	ClassRefused     = "connection_refused"
	ClassDNS         = "dns"
	ClassTLS         = "tls"
	ClassPermission  = "permission"
	ClassUnreachable = "unreachable"
	ClassConnection  = "connection"
	ClassStatus      = "status"
	ClassKeyword     = "keyword"
	ClassNoReply     = "no_reply"
	ClassConfig      = "configuration"
)

// UnsupportedKindError is returned when no checker exists for a monitor kind
type UnsupportedKindError struct {
	Kind models.MonitorKind
}

func (e *UnsupportedKindError) Error() string {
	return fmt.Sprintf("unsupported monitor type: %q", e.Kind)
}

// Is makes UnsupportedKindError a configuration error.
func (e *UnsupportedKindError) Is(target error) bool {
	return target == models.ErrInvalidMonitor
}

// CheckError is a transient check failure tagged with its class
type CheckError struct {
	Class string
	Err   error
}

func (e *CheckError) Error() string {
	return e.Err.Error()
}

func (e *CheckError) Unwrap() error {
	return e.Err
}

// Classify maps a network error onto a failure class.
func Classify(err error) string {
	if err == nil {
		return ""
	}

	var checkErr *CheckError
	if errors.As(err, &checkErr) {
		return checkErr.Class
	}

	var dnsErr *net.DNSError
	var netErr net.Error
	var certErr *tls.CertificateVerificationError
	var unknownAuthority x509.UnknownAuthorityError
	var hostnameErr x509.HostnameError
	var invalidCert x509.CertificateInvalidError
	var recordErr tls.RecordHeaderError

	switch {
	case errors.As(err, &dnsErr):
		if dnsErr.IsTimeout {
			return ClassTimeout
		}
		return ClassDNS
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, os.ErrDeadlineExceeded):
		return ClassTimeout
	case errors.Is(err, syscall.ECONNREFUSED):
		return ClassRefused
	case errors.Is(err, syscall.EPERM), errors.Is(err, syscall.EACCES), errors.Is(err, os.ErrPermission):
		return ClassPermission
	case errors.Is(err, syscall.ENETUNREACH), errors.Is(err, syscall.EHOSTUNREACH):
		return ClassUnreachable
	case errors.As(err, &certErr), errors.As(err, &unknownAuthority), errors.As(err, &hostnameErr),
		errors.As(err, &invalidCert), errors.As(err, &recordErr):
		return ClassTLS
	case errors.As(err, &netErr) && netErr.Timeout():
		return ClassTimeout
	default:
		return ClassConnection
	}
}
