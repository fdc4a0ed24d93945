package checkout

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormDataMergeDoesNotAlias(t *testing.T) {
	t.Parallel()

	base := FormData{"email": "a@b.dk"}
	merged := base.Merge(FormData{"email": "c@d.dk", "phone": "12345678"})

	assert.Equal(t, FormData{"email": "a@b.dk"}, base)
	assert.Equal(t, FormData{"email": "c@d.dk", "phone": "12345678"}, merged)
}

func TestFormDataString(t *testing.T) {
	t.Parallel()

	f := FormData{"s": "x", "f": 12.5, "i": 3, "n": float64(2000)}
	assert.Equal(t, "x", f.String("s"))
	assert.Equal(t, "12.5", f.String("f"))
	assert.Equal(t, "3", f.String("i"))
	assert.Equal(t, "2000", f.String("n"))
	assert.Equal(t, "", f.String("missing"))
}

func TestFormDataPick(t *testing.T) {
	t.Parallel()

	f := FormData{"a": "1", "b": "2", "c": "3"}
	assert.Equal(t, FormData{"a": "1", "c": "3"}, f.Pick("a", "c", "z"))
}

func TestApplyMergePatch(t *testing.T) {
	t.Parallel()

	f := FormData{"email": "a@b.dk", "shipping_address.city": "Aarhus", "qty": float64(2)}
	got, err := f.ApplyMergePatch([]byte(`{"shipping_address.city":"Odense","qty":null,"company":"Wufi ApS"}`))
	require.NoError(t, err)
	assert.Equal(t, FormData{
		"email":                 "a@b.dk",
		"shipping_address.city": "Odense",
		"company":               "Wufi ApS",
	}, got)
	assert.Equal(t, "Aarhus", f.String("shipping_address.city"), "original untouched")
}

func TestApplyMergePatchRejectsNested(t *testing.T) {
	t.Parallel()

	_, err := FormData{}.ApplyMergePatch([]byte(`{"shipping_address":{"city":"Odense"}}`))
	assert.Error(t, err)

	_, err = FormData{}.ApplyMergePatch([]byte(`{not json`))
	assert.Error(t, err)
}
