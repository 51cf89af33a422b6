package postgres

import (
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTimeConversions(t *testing.T) {
	jst := time.FixedZone("JST", 9*60*60)
	at := time.Date(2026, 1, 1, 9, 0, 0, 0, jst)

	got := PgtypeToTimePtr(TimePtrToPgtype(&at))
	require.NotNil(t, got)
	assert.True(t, got.Equal(at))
	assert.Equal(t, time.UTC, got.Location())

	assert.Nil(t, PgtypeToTimePtr(TimePtrToPgtype(nil)))
}

func TestNullableConversions(t *testing.T) {
	assert.False(t, StringToNullableText("").Valid)
	assert.Equal(t, "q", PgtextToString(StringToNullableText("q")))
	assert.Equal(t, "", PgtextToString(pgtype.Text{}))

	n := int64(42)
	assert.Equal(t, &n, PgtypeToInt64Ptr(Int64PtrToPgtype(&n)))
	assert.Nil(t, PgtypeToInt64Ptr(Int64PtrToPgtype(nil)))
}

func TestJSONB(t *testing.T) {
	b, err := MarshalJSONB(map[string]int{"a": 1})
	require.NoError(t, err)

	var out map[string]int
	require.NoError(t, UnmarshalJSONB(b, &out))
	assert.Equal(t, 1, out["a"])

	b, err = MarshalJSONB(nil)
	require.NoError(t, err)
	assert.Nil(t, b)

	out = nil
	require.NoError(t, UnmarshalJSONB(nil, &out))
	assert.Nil(t, out)
	assert.Error(t, UnmarshalJSONB([]byte("{"), &out))
}
