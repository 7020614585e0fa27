// Package fiscal implements the technical security element (TSE) that
// signs fiscal transactions for cash-register compliance (German
// KassenSichV and the Austrian/Italian equivalents bridged through a
// cloud TSS), plus the wire formats a verifier depends on.
package fiscal

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strconv"
	"time"

	"github.com/darkvelocity/retailcore/internal/platform/apierr"
	"github.com/darkvelocity/retailcore/internal/platform/clock"
)

// timeFormat is the bit-exact TSE time format: yyyy-MM-ddTHH:mm:ss.fffZ.
const timeFormat = "2006-01-02T15:04:05.000Z"

// FormatTime renders t in the TSE's contractual time format.
func FormatTime(t time.Time) string {
	return t.UTC().Format(timeFormat)
}

// TransactionContext is the in-flight state for one started-but-not-yet-
// finished transaction.
type TransactionContext struct {
	TransactionNumber int64
	ProcessType       string
	ProcessData       string
	ClientID          string
	StartTime         time.Time
}

// State is the full state of one TSE actor.
type State struct {
	OrgID              string
	LocationID         string
	Initialized        bool
	SigningKey         []byte
	CertificateSerial  string
	PublicKeyBase64    string
	TransactionCounter int64
	SignatureCounter   int64
	OpenTransactions   map[int64]*TransactionContext
	LastSelfTestAt     time.Time
	LastSelfTestPassed bool
}

// Engine applies TSE commands to a State.
type Engine struct {
	Clock clock.Clock
	Rand  clock.Randomness
}

// NewEngine builds a TSE Engine.
func NewEngine(c clock.Clock, r clock.Randomness) *Engine {
	if c == nil {
		c = clock.System{}
	}
	if r == nil {
		r = clock.CryptoRandomness{}
	}
	return &Engine{Clock: c, Rand: r}
}

func requireInitialized(s *State) error {
	if !s.Initialized {
		return apierr.ErrNotInitialized(s.LocationID)
	}
	return nil
}

// InitParams is the payload for Initialize.
type InitParams struct {
	OrgID      string
	LocationID string
}

// Initialize generates a 32-byte signing key, a certificate serial
// derived from a timestamp, and a public-key-base64 placeholder derived
// from the first 16 bytes of the signing key.
func (e *Engine) Initialize(s *State, p InitParams) error {
	if s.Initialized {
		return apierr.ErrConflict("TSE already initialized")
	}

	keyMaterial, err := hex.DecodeString(e.Rand.HexToken(32))
	if err != nil || len(keyMaterial) != 32 {
		return fmt.Errorf("generate TSE signing key: %w", err)
	}

	s.OrgID, s.LocationID = p.OrgID, p.LocationID
	s.SigningKey = keyMaterial
	s.CertificateSerial = fmt.Sprintf("TSE-%d", e.Clock.Now().UnixNano())
	s.PublicKeyBase64 = base64.StdEncoding.EncodeToString(keyMaterial[:16])
	s.OpenTransactions = map[int64]*TransactionContext{}
	s.Initialized = true
	return nil
}

// StartTransactionParams is the payload for StartTransaction.
type StartTransactionParams struct {
	ProcessType string
	ProcessData string
	ClientID    string
}

// Emitted mirrors the other aggregates' emitted-event shape.
type Emitted struct {
	Type    string
	Payload any
}

// StartTransaction allocates the next transaction counter and opens a
// TransactionContext, emitting TseTransactionStarted.
func (e *Engine) StartTransaction(s *State, p StartTransactionParams) (int64, []Emitted, error) {
	if err := requireInitialized(s); err != nil {
		return 0, nil, err
	}

	s.TransactionCounter++
	txNumber := s.TransactionCounter
	s.OpenTransactions[txNumber] = &TransactionContext{
		TransactionNumber: txNumber,
		ProcessType:       p.ProcessType,
		ProcessData:       p.ProcessData,
		ClientID:          p.ClientID,
		StartTime:         e.Clock.Now(),
	}

	return txNumber, []Emitted{{Type: "TseTransactionStarted", Payload: map[string]any{
		"transactionNumber": txNumber,
		"processType":       p.ProcessType,
		"processData":       p.ProcessData,
		"clientId":          p.ClientID,
		"startTime":         FormatTime(s.OpenTransactions[txNumber].StartTime),
	}}}, nil
}

// UpdateTransaction updates the in-flight context's processData.
func (e *Engine) UpdateTransaction(s *State, txNumber int64, processData string) ([]Emitted, error) {
	if err := requireInitialized(s); err != nil {
		return nil, err
	}
	ctx, ok := s.OpenTransactions[txNumber]
	if !ok {
		return nil, apierr.ErrPreconditionViolation(fmt.Sprintf("no open TSE transaction %d", txNumber))
	}
	ctx.ProcessData = processData

	return []Emitted{{Type: "TseTransactionUpdated", Payload: map[string]any{
		"transactionNumber": txNumber,
		"processData":       processData,
	}}}, nil
}

// SignatureResult is the outcome of finishing a transaction.
type SignatureResult struct {
	TransactionNumber int64
	SignatureCounter  int64
	Signature         string // hex HMAC-SHA256
	QRCode            string
	StartTime         string
	EndTime           string
}

// FinishTransaction builds the canonical signature payload, signs it,
// builds the QR-code payload, increments the signature counter, and
// removes the transaction's in-flight context.
func (e *Engine) FinishTransaction(s *State, txNumber int64, processType, processData string) (SignatureResult, []Emitted, error) {
	if err := requireInitialized(s); err != nil {
		return SignatureResult{}, nil, err
	}
	open, ok := s.OpenTransactions[txNumber]
	if !ok {
		return SignatureResult{}, nil, apierr.ErrPreconditionViolation(fmt.Sprintf("no open TSE transaction %d", txNumber))
	}

	endTime := e.Clock.Now()
	startTime := FormatTime(open.StartTime)
	end := FormatTime(endTime)
	s.SignatureCounter++
	sigCounter := s.SignatureCounter

	payload := SignaturePayload(txNumber, startTime, end, processType, processData, sigCounter)
	sig := Sign(s.SigningKey, payload)
	qr := QRCode(s.CertificateSerial, sig, end, txNumber, startTime, end, processType, processData, sigCounter)

	delete(s.OpenTransactions, txNumber)

	result := SignatureResult{
		TransactionNumber: txNumber,
		SignatureCounter:  sigCounter,
		Signature:         sig,
		QRCode:            qr,
		StartTime:         startTime,
		EndTime:           end,
	}

	return result, []Emitted{{Type: "TseTransactionFinished", Payload: map[string]any{
		"transactionNumber": txNumber,
		"signatureCounter":  sigCounter,
		"signature":         sig,
		"qrCode":            qr,
		"startTime":         startTime,
		"endTime":           end,
		"processType":       processType,
		"processData":       processData,
	}}}, nil
}

// SignaturePayload builds the bit-exact canonical signature payload:
// transactionNumber;startTime;endTime;processType;processData;signatureCounter
func SignaturePayload(txNumber int64, startTime, endTime, processType, processData string, sigCounter int64) string {
	return joinFields(";",
		strconv.FormatInt(txNumber, 10),
		startTime,
		endTime,
		processType,
		processData,
		strconv.FormatInt(sigCounter, 10),
	)
}

// QRCode builds the bit-exact QR-code payload:
// V0;certificateSerial;HMAC;utcTime;transactionNumber;startTime;endTime;processType;processData;signatureCounter;base64Signature
func QRCode(certificateSerial, hexSignature, utcTime string, txNumber int64, startTime, endTime, processType, processData string, sigCounter int64) string {
	sigBytes, _ := hex.DecodeString(hexSignature)
	b64Sig := base64.StdEncoding.EncodeToString(sigBytes)
	return joinFields(";",
		"V0",
		certificateSerial,
		hexSignature,
		utcTime,
		strconv.FormatInt(txNumber, 10),
		startTime,
		endTime,
		processType,
		processData,
		strconv.FormatInt(sigCounter, 10),
		b64Sig,
	)
}

func joinFields(sep string, parts ...string) string {
	out := parts[0]
	for _, p := range parts[1:] {
		out += sep + p
	}
	return out
}

// Sign computes HMAC-SHA256 over payload with key, hex-encoded.
func Sign(key []byte, payload string) string {
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}

// SelfTest signs a deterministic test message; success requires a
// non-empty signature. Records lastSelfTestAt/lastSelfTestPassed.
func (e *Engine) SelfTest(s *State) (bool, error) {
	if err := requireInitialized(s); err != nil {
		return false, err
	}
	sig := Sign(s.SigningKey, "tse-self-test")
	s.LastSelfTestAt = e.Clock.Now()
	s.LastSelfTestPassed = sig != ""
	return s.LastSelfTestPassed, nil
}
