package chain

import (
	"errors"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rpc"
)

var (
	// ErrUserRejected is returned by wallets whose owner declined to sign.
	ErrUserRejected = errors.New("User rejected the request")
	// ErrReverted marks a mined transaction whose receipt status is failure.
	ErrReverted = errors.New("transaction reverted")
	// ErrReceiptNotFound means the transaction is not mined yet.
	ErrReceiptNotFound = errors.New("receipt not found")
)

// codeUserRejected is the EIP-1193 provider error for a declined request.
const codeUserRejected = 4001

// ErrorKind classifies write failures for display.
type ErrorKind int

const (
	KindUnknown ErrorKind = iota
	KindUserRejected
	KindInsufficientFunds
	KindAlreadyRegistered
	KindNotRegistered
	KindAdminOnly
)

func (k ErrorKind) String() string {
	switch k {
	case KindUserRejected:
		return "user_rejected"
	case KindInsufficientFunds:
		return "insufficient_funds"
	case KindAlreadyRegistered:
		return "already_registered"
	case KindNotRegistered:
		return "not_registered"
	case KindAdminOnly:
		return "admin_only"
	default:
		return "unknown"
	}
}

// RevertReason extracts the Error(string) reason carried in JSON-RPC error
// data, if any.
func RevertReason(err error) (string, bool) {
	var dataErr rpc.DataError
	if !errors.As(err, &dataErr) {
		return "", false
	}
	hexData, ok := dataErr.ErrorData().(string)
	if !ok {
		return "", false
	}
	data, decodeErr := hexutil.Decode(hexData)
	if decodeErr != nil {
		return "", false
	}
	reason, unpackErr := abi.UnpackRevert(data)
	if unpackErr != nil {
		return "", false
	}
	return reason, true
}

// Classify maps an error to a kind. Structured signals (wallet sentinel,
// provider error code, decoded revert reason) are checked before falling
// back to matching the message text.
func Classify(err error) ErrorKind {
	if err == nil {
		return KindUnknown
	}
	if errors.Is(err, ErrUserRejected) {
		return KindUserRejected
	}
	var rpcErr rpc.Error
	if errors.As(err, &rpcErr) && rpcErr.ErrorCode() == codeUserRejected {
		return KindUserRejected
	}

	text := err.Error()
	if reason, ok := RevertReason(err); ok {
		text = reason
	}

	switch {
	case strings.Contains(text, "User rejected"):
		return KindUserRejected
	case strings.Contains(text, "insufficient funds"):
		return KindInsufficientFunds
	case strings.Contains(text, "Already registered"):
		return KindAlreadyRegistered
	case strings.Contains(text, "Not registered"):
		return KindNotRegistered
	case strings.Contains(text, "Only admin"):
		return KindAdminOnly
	default:
		return KindUnknown
	}
}

var kindMessages = map[ErrorKind]string{
	KindUserRejected:      "Transaction rejected by user",
	KindInsufficientFunds: "Insufficient funds for gas",
	KindAlreadyRegistered: "Investor is already registered",
	KindNotRegistered:     "Investor is not registered",
	KindAdminOnly:         "Only admin can perform this action",
}

// Message renders err for a toast. Unclassified errors show their own text
// cut to limit characters, or fallback when there is no text.
func Message(err error, limit int, fallback string) string {
	if err == nil {
		return fallback
	}
	if msg, ok := kindMessages[Classify(err)]; ok {
		return msg
	}
	text := err.Error()
	if reason, ok := RevertReason(err); ok {
		text = reason
	}
	if text == "" {
		return fallback
	}
	return Truncate(text, limit)
}

// AdminMessage is the toast text for a failed admin action.
func AdminMessage(err error) string {
	return Message(err, 100, "Transaction failed")
}

// TransferToastMessage is the toast text for a failed transfer. Only a
// wallet rejection is rephrased; anything else shows its own text.
func TransferToastMessage(err error) string {
	if err == nil {
		return "Transfer failed"
	}
	if Classify(err) == KindUserRejected {
		return kindMessages[KindUserRejected]
	}
	text := err.Error()
	if reason, ok := RevertReason(err); ok {
		text = reason
	}
	if text == "" {
		return "Transfer failed"
	}
	return Truncate(text, 100)
}

// TransferPreviewMessage is the inline text on the preview after a failure.
func TransferPreviewMessage(err error) string {
	if err == nil {
		return ""
	}
	if Classify(err) == KindUserRejected {
		return "Transaction was rejected in your wallet"
	}
	return Truncate(err.Error(), 150)
}

// Truncate cuts s to at most n runes.
func Truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
