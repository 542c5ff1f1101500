// Package notary issues and verifies notary seals over decision records.
//
// A seal signs the SHA-256 digest of the canonical form of a named subset
// of a decision's fields. Anyone holding the notary public key can check,
// offline, that those fields are exactly what the notary issued.
package notary

import (
	"github.com/Idkasam/kora-sdk/pkg/canonicalize"
	"github.com/Idkasam/kora-sdk/pkg/contracts"
	"github.com/Idkasam/kora-sdk/pkg/crypto"
)

// SealableFields lists every decision field a seal may cover. "decision"
// and "status" are aliases for the same value.
var SealableFields = []string{
	"intent_id",
	"mandate_id",
	"mandate_version",
	"decision",
	"status",
	"reason_code",
	"amount_cents",
	"currency",
	"vendor_id",
	"evaluated_at",
	"ttl_seconds",
	"enforcement_mode",
	"executable",
}

// FieldValues returns the sealable fields of rec. Absent optional fields
// map to nil and are signed as null.
func FieldValues(rec *contracts.DecisionRecord) map[string]any {
	return map[string]any{
		"intent_id":        rec.IntentID,
		"mandate_id":       rec.MandateID,
		"mandate_version":  rec.MandateVersion,
		"decision":         rec.Decision,
		"status":           rec.Decision,
		"reason_code":      string(rec.ReasonCode),
		"amount_cents":     rec.AmountCents,
		"currency":         rec.Currency,
		"vendor_id":        rec.VendorID,
		"evaluated_at":     rec.EvaluatedAt,
		"ttl_seconds":      rec.TTLSeconds,
		"enforcement_mode": rec.EnforcementMode,
		"executable":       rec.Executable,
	}
}

// Payload returns the canonical bytes a seal over signedFields covers.
// Unknown names are skipped.
func Payload(rec *contracts.DecisionRecord, signedFields []string) ([]byte, error) {
	values := FieldValues(rec)
	subset := make(map[string]any, len(signedFields))
	for _, name := range signedFields {
		if v, ok := values[name]; ok {
			subset[name] = v
		}
	}
	return canonicalize.Canonicalize(subset)
}

// VerifySeal reports whether seal is a valid signature by pubB64 over the
// fields of rec it names. It never errors: a nil record or seal, an
// unencodable payload or a bad signature all yield false.
func VerifySeal(rec *contracts.DecisionRecord, seal *contracts.NotarySeal, pubB64 string) bool {
	if rec == nil || seal == nil {
		return false
	}
	payload, err := Payload(rec, seal.SignedFields)
	if err != nil {
		return false
	}
	return crypto.Verify(canonicalize.Digest(payload), seal.Signature, pubB64)
}

// VerifyRecord verifies the seal attached to rec.
func VerifyRecord(rec *contracts.DecisionRecord, pubB64 string) bool {
	if rec == nil {
		return false
	}
	return VerifySeal(rec, rec.NotarySeal, pubB64)
}
