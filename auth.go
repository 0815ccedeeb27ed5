package postchain

import (
	"bytes"
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/mr-tron/base58"

	"github.com/eringen/postchain/chain"
)

// Request signing headers. Each X-Postchain-Signature value is
// "<base58 public key>.<base58 signature>" over SigningMessage.
const (
	HeaderTimestamp = "X-Postchain-Timestamp"
	HeaderSignature = "X-Postchain-Signature"
	HeaderAuthority = "X-Postchain-Authority"
)

const (
	maxSignedBody = 12 << 20
	callerKey     = "postchain.caller"
)

var errBadSignature = errors.New("invalid request signature")

// SigningMessage is the byte string each signer signs for a request.
func SigningMessage(method, uri string, ts int64, body []byte) []byte {
	sum := sha256.Sum256(body)
	return []byte(method + "\n" + uri + "\n" + strconv.FormatInt(ts, 10) + "\n" + hex.EncodeToString(sum[:]))
}

// SignRequest adds timestamp and signature headers to req for each key.
// The first key is the request's authority unless HeaderAuthority is set.
// body must be the exact bytes sent as the request body.
func SignRequest(req *http.Request, body []byte, now time.Time, keys ...ed25519.PrivateKey) {
	ts := now.Unix()
	req.Header.Set(HeaderTimestamp, strconv.FormatInt(ts, 10))
	msg := SigningMessage(req.Method, req.URL.RequestURI(), ts, body)
	for _, k := range keys {
		pub := k.Public().(ed25519.PublicKey)
		sig := ed25519.Sign(k, msg)
		req.Header.Add(HeaderSignature, base58.Encode(pub)+"."+base58.Encode(sig))
	}
}

// verifyRequest checks the signatures on a request and returns the caller.
// The body is read and restored so handlers can bind it afterwards.
func verifyRequest(req *http.Request, now time.Time, maxSkew time.Duration) (chain.Caller, error) {
	ts, err := strconv.ParseInt(req.Header.Get(HeaderTimestamp), 10, 64)
	if err != nil {
		return chain.Caller{}, fmt.Errorf("%w: missing or malformed %s", errBadSignature, HeaderTimestamp)
	}
	if skew := now.Sub(time.Unix(ts, 0)); skew > maxSkew || skew < -maxSkew {
		return chain.Caller{}, fmt.Errorf("%w: timestamp outside the accepted window", errBadSignature)
	}

	var body []byte
	if req.Body != nil {
		body, err = io.ReadAll(io.LimitReader(req.Body, maxSignedBody+1))
		req.Body.Close()
		if err != nil {
			return chain.Caller{}, fmt.Errorf("read body: %w", err)
		}
		if len(body) > maxSignedBody {
			return chain.Caller{}, fmt.Errorf("%w: body too large", errBadSignature)
		}
	}
	req.Body = io.NopCloser(bytes.NewReader(body))
	req.ContentLength = int64(len(body))

	values := req.Header.Values(HeaderSignature)
	if len(values) == 0 {
		return chain.Caller{}, fmt.Errorf("%w: no signatures", errBadSignature)
	}
	msg := SigningMessage(req.Method, req.URL.RequestURI(), ts, body)
	signers := make([]chain.Address, 0, len(values))
	for _, v := range values {
		pubText, sigText, ok := strings.Cut(v, ".")
		if !ok {
			return chain.Caller{}, fmt.Errorf("%w: malformed signature header", errBadSignature)
		}
		pub, err := base58.Decode(pubText)
		if err != nil || len(pub) != ed25519.PublicKeySize {
			return chain.Caller{}, fmt.Errorf("%w: malformed public key", errBadSignature)
		}
		sig, err := base58.Decode(sigText)
		if err != nil || !ed25519.Verify(pub, msg, sig) {
			return chain.Caller{}, fmt.Errorf("%w: signature does not verify", errBadSignature)
		}
		signers = append(signers, chain.IdentityOf(pub))
	}

	caller := chain.SignedBy(signers...)
	if v := req.Header.Get(HeaderAuthority); v != "" {
		authority, err := chain.ParseAddress(v)
		if err != nil {
			return chain.Caller{}, fmt.Errorf("%w: %s: %v", errBadSignature, HeaderAuthority, err)
		}
		caller.Authority = authority
	}
	return caller, nil
}

// requireSignature authenticates the request and stores the chain.Caller in
// the context. Repeated failures from one IP are answered with 429.
func (a *App) requireSignature(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		ip := c.RealIP()
		if !a.limiter.Check(ip) {
			return echo.NewHTTPError(http.StatusTooManyRequests, "too many failed signatures")
		}
		caller, err := verifyRequest(c.Request(), a.clock.Now(), a.Config.SignatureMaxSkew.Duration)
		if err != nil {
			if errors.Is(err, errBadSignature) {
				a.limiter.Record(ip)
				a.Log.Warn().Str("ip", ip).Err(err).Msg("rejected request signature")
				return echo.NewHTTPError(http.StatusUnauthorized, err.Error())
			}
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		c.Set(callerKey, caller)
		return next(c)
	}
}

// callerFrom returns the authenticated caller for a signed route.
func callerFrom(c echo.Context) chain.Caller {
	caller, _ := c.Get(callerKey).(chain.Caller)
	return caller
}
