package storage

import (
	"errors"
	"fmt"
	"io/fs"
	"net"
	"syscall"

	"github.com/aws/smithy-go"
	"github.com/hirochachacha/go-smb2"
)

// Kind is the coarse failure class the engine acts on.
type Kind int

const (
	KindTransient Kind = iota
	KindNotFound
	KindPermission
	KindAuth
	KindUnreachable
	KindInvalidAddress
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not-found"
	case KindPermission:
		return "permission-denied"
	case KindAuth:
		return "auth-failure"
	case KindUnreachable:
		return "unreachable"
	case KindInvalidAddress:
		return "invalid-address"
	default:
		return "transient"
	}
}

var (
	ErrInvalidAddress = errors.New("invalid storage address")
)

// NTSTATUS codes returned by SMB servers that we classify explicitly.
const (
	statusAccessDenied       uint32 = 0xC0000022
	statusObjectNameNotFound uint32 = 0xC0000034
	statusObjectPathNotFound uint32 = 0xC000003A
	statusLogonFailure       uint32 = 0xC000006D
	statusAccountRestriction uint32 = 0xC000006E
	statusPasswordExpired    uint32 = 0xC0000071
	statusAccountDisabled    uint32 = 0xC0000072
	statusBadNetworkName     uint32 = 0xC00000CC
	statusNoSuchFile         uint32 = 0xC000000F
)

// BackendError carries the original backend failure for one operation.
type BackendError struct {
	Op   string
	Path string
	Kind Kind
	Err  error
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *BackendError) Unwrap() error {
	return e.Err
}

// KindOf returns the failure class of err. Errors that are not a BackendError are classified on the fly.
func KindOf(err error) Kind {
	var be *BackendError
	if errors.As(err, &be) {
		return be.Kind
	}
	return classify(err)
}

func newError(op, path string, err error) error {
	if err == nil {
		return nil
	}
	var be *BackendError
	if errors.As(err, &be) {
		return err
	}
	return &BackendError{Op: op, Path: path, Kind: classify(err), Err: err}
}

func classify(err error) Kind {
	if errors.Is(err, ErrInvalidAddress) {
		return KindInvalidAddress
	}

	var respErr *smb2.ResponseError
	if errors.As(err, &respErr) {
		switch respErr.Code {
		case statusLogonFailure, statusAccountRestriction, statusPasswordExpired, statusAccountDisabled:
			return KindAuth
		case statusAccessDenied:
			return KindPermission
		case statusObjectNameNotFound, statusObjectPathNotFound, statusNoSuchFile:
			return KindNotFound
		case statusBadNetworkName:
			return KindUnreachable
		}
		return KindTransient
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound", "NoSuchBucket":
			return KindNotFound
		case "AccessDenied", "Forbidden":
			return KindPermission
		case "InvalidAccessKeyId", "SignatureDoesNotMatch", "ExpiredToken", "InvalidToken":
			return KindAuth
		}
		return KindTransient
	}

	if errors.Is(err, fs.ErrNotExist) {
		return KindNotFound
	}
	if errors.Is(err, fs.ErrPermission) {
		return KindPermission
	}

	var addrErr *net.AddrError
	if errors.As(err, &addrErr) {
		return KindInvalidAddress
	}
	var transportErr *smb2.TransportError
	if errors.As(err, &transportErr) {
		return KindUnreachable
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return KindUnreachable
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return KindUnreachable
	}

	// only ENOTDIR has a kind of its own; Errno also satisfies net.Error, so no generic net check
	var errno syscall.Errno
	if errors.As(err, &errno) && errno == syscall.ENOTDIR {
		return KindNotFound
	}

	return KindTransient
}
