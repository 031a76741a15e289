// Package errorgroup canonicalizes and fingerprints error-log occurrences
// into deduplicated groups (spec.md §4.7).
//
// Grounded on allensuvorov-tenexlog's internal/parse/rows.go, which treats
// missing/blank fields as empty rather than erroring; that same
// null-as-empty discipline is what spec.md §4.7 asks for when hashing
// (error_type, canonical_message, file_basename, function_name).
package errorgroup

import (
	"crypto/sha256"
	"path"
	"regexp"
	"strings"

	"github.com/allensuvorov/logamizer/internal/model"
)

var (
	digitsPattern    = regexp.MustCompile(`\d+`)
	quotedPattern    = regexp.MustCompile(`"[^"]*"|'[^']*'`)
	isoTimePattern   = regexp.MustCompile(`\bN-N-N[t ]N:N:N(\.N)?(z|[+-]N(:N)?)?\b`)
	clfTimePattern   = regexp.MustCompile(`\[\w{3} \w{3} +N N:N:N(\.N)? N\]`)
	absPathPattern   = regexp.MustCompile(`(?:/[\w.\-]+)+/([\w.\-]+)`)
)

// Canonicalize reduces an error message to a template that's stable across
// occurrences of the same underlying error but different data: digits
// become N, quoted strings become "S", and timestamps/absolute paths
// collapse so two stack traces for the same bug compare equal even when
// their request IDs and working directories differ.
func Canonicalize(msg string) string {
	out := strings.ToLower(msg)
	out = digitsPattern.ReplaceAllString(out, "N")
	// digitsPattern already turned each run of timestamp digits into a
	// single N (and ToLower turned the ISO "T"/"Z" into "t"/"z"); match the
	// now-normalized shapes and collapse them to one token.
	out = isoTimePattern.ReplaceAllString(out, "<ts>")
	out = clfTimePattern.ReplaceAllString(out, "<ts>")
	out = quotedPattern.ReplaceAllString(out, `"S"`)
	out = absPathPattern.ReplaceAllStringFunc(out, func(m string) string {
		sub := absPathPattern.FindStringSubmatch(m)
		if len(sub) < 2 {
			return m
		}
		return path.Base(sub[1])
	})
	return strings.Join(strings.Fields(out), " ")
}

// Fingerprint computes the first 16 bytes of SHA-256 over
// (error_type, canonical_message, file_basename, function_name), with
// empty-field treatment for any unset part, per spec.md §4.7 step 2.
func Fingerprint(errorType, canonicalMessage, filePath, funcName string) [16]byte {
	basename := ""
	if filePath != "" {
		basename = path.Base(filePath)
	}
	h := sha256.New()
	h.Write([]byte(errorType))
	h.Write([]byte{0})
	h.Write([]byte(canonicalMessage))
	h.Write([]byte{0})
	h.Write([]byte(basename))
	h.Write([]byte{0})
	h.Write([]byte(funcName))
	var out [16]byte
	copy(out[:], h.Sum(nil)[:16])
	return out
}

// FingerprintOf derives an occurrence's group fingerprint directly.
func FingerprintOf(occ model.ErrorOccurrence) [16]byte {
	return Fingerprint(occ.ErrorType, Canonicalize(occ.Message), occ.FilePath, occ.FuncName)
}

// Upsert applies one occurrence to a group, implementing spec.md §4.7 step
// 3's first_seen/last_seen/occurrence_count semantics. Pass the zero value
// for existing when no group for this fingerprint exists yet; the caller
// is responsible for making the read-modify-write atomic against
// concurrent upserts of the same fingerprint (memstore does this under
// its single store-wide mutex, sqlstore with a serializable transaction).
func Upsert(existing *model.ErrorGroup, siteID string, fp [16]byte, occ model.ErrorOccurrence) model.ErrorGroup {
	// Mirrors the literal INSERT ... ON CONFLICT DO UPDATE shape spec.md
	// §4.7 step 3 describes: the inserted row starts at occurrence_count =
	// 1 (this occurrence) and a subsequent conflicting upsert increments
	// it, so a fingerprint seen N times persists at count N.
	if existing == nil {
		return model.ErrorGroup{
			SiteID:          siteID,
			Fingerprint:     fp,
			ErrorType:       occ.ErrorType,
			ErrorMessage:    occ.Message,
			FirstSeen:       occ.Timestamp,
			LastSeen:        occ.Timestamp,
			OccurrenceCount: 1,
			Status:          model.ErrorUnresolved,
		}
	}
	next := *existing
	if occ.Timestamp.Before(next.FirstSeen) {
		next.FirstSeen = occ.Timestamp
	}
	if occ.Timestamp.After(next.LastSeen) {
		next.LastSeen = occ.Timestamp
	}
	next.OccurrenceCount++
	return next
}
