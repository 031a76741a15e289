package errorgroup

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/allensuvorov/logamizer/internal/model"
)

func TestCanonicalizeCollapsesDigitsAndQuotedStrings(t *testing.T) {
	a := Canonicalize(`Failed to load user 4821 with token "abc123xyz"`)
	b := Canonicalize(`Failed to load user 9 with token "zzz"`)
	assert.Equal(t, a, b)
}

func TestCanonicalizeCollapsesAbsolutePathToBasename(t *testing.T) {
	out := Canonicalize(`open /var/www/html/app/config/db.php: no such file`)
	assert.Contains(t, out, "db.php")
	assert.NotContains(t, out, "/var/www")
}

func TestCanonicalizeIsCaseInsensitive(t *testing.T) {
	a := Canonicalize("Connection Refused")
	b := Canonicalize("connection refused")
	assert.Equal(t, a, b)
}

func TestFingerprintStableAcrossEquivalentMessages(t *testing.T) {
	fp1 := Fingerprint("core:error", Canonicalize("file 1 missing"), "/a/b/c.php", "handle")
	fp2 := Fingerprint("core:error", Canonicalize("file 2 missing"), "/x/y/c.php", "handle")
	assert.Equal(t, fp1, fp2)
}

func TestFingerprintDiffersByErrorType(t *testing.T) {
	fp1 := Fingerprint("core:error", "same message", "c.php", "handle")
	fp2 := Fingerprint("core:warn", "same message", "c.php", "handle")
	assert.NotEqual(t, fp1, fp2)
}

func TestFingerprintOfUsesCanonicalizedMessage(t *testing.T) {
	occ := model.ErrorOccurrence{ErrorType: "core:error", Message: `user 123 not found`, FilePath: "/a/handlers.go", FuncName: "Handle"}
	fp := FingerprintOf(occ)
	expect := Fingerprint("core:error", Canonicalize(occ.Message), occ.FilePath, occ.FuncName)
	assert.Equal(t, expect, fp)
}

func TestUpsertInsertsAtOneOccurrenceCount(t *testing.T) {
	occ := model.ErrorOccurrence{ErrorType: "core:error", Message: "boom", Timestamp: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	group := Upsert(nil, "site1", [16]byte{1}, occ)
	assert.EqualValues(t, 1, group.OccurrenceCount)
	assert.Equal(t, occ.Timestamp, group.FirstSeen)
	assert.Equal(t, occ.Timestamp, group.LastSeen)
	assert.Equal(t, model.ErrorUnresolved, group.Status)
}

func TestUpsertIncrementsAndExpandsSeenWindow(t *testing.T) {
	first := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	second := time.Date(2024, 1, 1, 8, 0, 0, 0, time.UTC)
	third := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

	group := Upsert(nil, "site1", [16]byte{1}, model.ErrorOccurrence{Timestamp: first})
	group = Upsert(&group, "site1", [16]byte{1}, model.ErrorOccurrence{Timestamp: second})
	group = Upsert(&group, "site1", [16]byte{1}, model.ErrorOccurrence{Timestamp: third})

	require.EqualValues(t, 3, group.OccurrenceCount)
	assert.Equal(t, second, group.FirstSeen)
	assert.Equal(t, third, group.LastSeen)
}
