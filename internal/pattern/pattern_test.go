package pattern

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sigil-dev/sigil/internal/doc"
)

// Test helper to build a source document from a JSON payload.
func makeTestDocument(t *testing.T, key, typ, payload string) doc.Document {
	t.Helper()
	data, err := doc.DecodeData([]byte(payload))
	require.NoError(t, err)
	return doc.Document{Key: key, Type: typ, Data: data}
}

func TestCompile_InvalidWatch(t *testing.T) {
	_, err := Compile(Definition{Name: "bad", Watch: "push/*", Emit: "x@v1", EmitPath: "/out"})
	require.Error(t, err)

	var cerr *CompileError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, "watch", cerr.Field)
	assert.Equal(t, "bad", cerr.Name)
}

func TestCompile_InvalidRegex(t *testing.T) {
	tests := []struct {
		field string
		def   Definition
	}{
		{"x", Definition{Name: "r", Watch: "/a/*", Extract: "([", Emit: "x@v1", EmitPath: "/out"}},
		{"g", Definition{Name: "r", Watch: "/a/*", Guard: "([", Emit: "x@v1", EmitPath: "/out"}},
		{"v", Definition{Name: "r", Watch: "/a/*", Veto: "([", Emit: "x@v1", EmitPath: "/out"}},
	}

	for _, tc := range tests {
		t.Run(tc.field, func(t *testing.T) {
			_, err := Compile(tc.def)
			var cerr *CompileError
			require.ErrorAs(t, err, &cerr)
			assert.Equal(t, tc.field, cerr.Field)
		})
	}
}

func TestApply_NoMatchWhenPathDiffers(t *testing.T) {
	p, err := Compile(Definition{
		Name:     "r",
		Watch:    "/input/*",
		Extract:  `"value":(\d+)`,
		Emit:     "out@v1",
		EmitPath: "/out/${path.1}",
		Template: map[string]any{"v": "${1}"},
	})
	require.NoError(t, err)

	d := makeTestDocument(t, "/elsewhere/doc", "in@v1", `{"value":42}`)
	r, err := p.Apply(d, "")
	require.NoError(t, err)
	assert.Nil(t, r, "glob mismatch must short-circuit guard/veto/extraction")
}

func TestApply_GuardFailureReturnsNil(t *testing.T) {
	p, err := Compile(Definition{
		Name:     "r",
		Watch:    "/input/*",
		Extract:  `"value":(\d+)`,
		Guard:    `"kind":"payment"`,
		Emit:     "out@v1",
		EmitPath: "/out/${path.1}",
		Template: map[string]any{"v": "${1}"},
	})
	require.NoError(t, err)

	// Extraction would succeed, but the guard does not match.
	d := makeTestDocument(t, "/input/doc1", "in@v1", `{"value":42,"kind":"refund"}`)
	r, err := p.Apply(d, "")
	require.NoError(t, err)
	assert.Nil(t, r)
}

func TestApply_VetoFiresAfterGuardPasses(t *testing.T) {
	p, err := Compile(Definition{
		Name:     "r",
		Watch:    "/input/*",
		Guard:    `"kind":"payment"`,
		Veto:     `"test":true`,
		Emit:     "out@v1",
		EmitPath: "/out/${path.1}",
		Template: map[string]any{},
	})
	require.NoError(t, err)

	d := makeTestDocument(t, "/input/doc1", "in@v1", `{"kind":"payment","test":true}`)
	r, err := p.Apply(d, "")
	require.NoError(t, err)
	assert.Nil(t, r, "matching veto suppresses the reaction even when the guard passed")

	d = makeTestDocument(t, "/input/doc1", "in@v1", `{"kind":"payment","test":false}`)
	r, err = p.Apply(d, "")
	require.NoError(t, err)
	assert.NotNil(t, r)
}

func TestApply_CapturesAreOneIndexed(t *testing.T) {
	p, err := Compile(Definition{
		Name:     "r",
		Watch:    "/input/*",
		Extract:  `"value":(\d+)`,
		Emit:     "out@v1",
		EmitPath: "/out/${path.1}",
		Template: map[string]any{"first": "${1}", "second": "${2}"},
	})
	require.NoError(t, err)

	d := makeTestDocument(t, "/input/doc1", "in@v1", `{"value":42}`)
	r, err := p.Apply(d, "")
	require.NoError(t, err)
	require.NotNil(t, r)

	obj := r.Data.(map[string]any)
	assert.Equal(t, "42", obj["first"], "${1} is the first capture group")
	assert.Equal(t, "", obj["second"], "a missing group renders empty")
}

func TestApply_PathSegmentsAreZeroIndexed(t *testing.T) {
	p, err := Compile(Definition{
		Name:     "r",
		Watch:    "/events/**",
		Emit:     "out@v1",
		EmitPath: "/out/${path.1}/${path.2}",
		Template: map[string]any{"missing": "${path.9}"},
	})
	require.NoError(t, err)

	d := makeTestDocument(t, "/events/user/click", "in@v1", `{}`)
	r, err := p.Apply(d, "")
	require.NoError(t, err)
	require.NotNil(t, r)

	assert.Equal(t, "/out/user/click", r.Key)
	assert.Equal(t, "", r.Data.(map[string]any)["missing"])
}

func TestApply_UUIDPlaceholdersAreDistinct(t *testing.T) {
	p, err := Compile(Definition{
		Name:     "r",
		Watch:    "/input/*",
		Emit:     "out@v1",
		EmitPath: "/out/${uuid}",
		Template: map[string]any{"trace": "${uuid}-${uuid}"},
	}, WithTokenGenerator(NewFixedGenerator("tok-1", "tok-2", "tok-3")))
	require.NoError(t, err)

	d := makeTestDocument(t, "/input/doc1", "in@v1", `{}`)
	r, err := p.Apply(d, "")
	require.NoError(t, err)
	require.NotNil(t, r)

	assert.Equal(t, "/out/tok-1", r.Key)
	assert.Equal(t, "tok-2-tok-3", r.Data.(map[string]any)["trace"],
		"two placeholders in one template get distinct tokens")
}

func TestApply_DataPlaceholders(t *testing.T) {
	p, err := Compile(Definition{
		Name:     "r",
		Watch:    "/input/*",
		Emit:     "out@v1",
		EmitPath: "/out/${data.user}",
		Template: map[string]any{
			"amount": "${data.amount}",
			"nested": "${data.obj}",
			"absent": "${data.nope}",
		},
	})
	require.NoError(t, err)

	d := makeTestDocument(t, "/input/doc1", "in@v1",
		`{"user":"alice","amount":42,"obj":{"x":1}}`)
	r, err := p.Apply(d, "")
	require.NoError(t, err)
	require.NotNil(t, r)

	assert.Equal(t, "/out/alice", r.Key)
	obj := r.Data.(map[string]any)
	assert.Equal(t, "42", obj["amount"], "numbers render in their literal form")
	assert.Equal(t, "${data.obj}", obj["nested"], "non-scalar fields leave the placeholder as-is")
	assert.Equal(t, "${data.nope}", obj["absent"])
}

func TestApply_SubstitutesObjectKeysAndArrayElements(t *testing.T) {
	p, err := Compile(Definition{
		Name:     "r",
		Watch:    "/input/*",
		Emit:     "out@v1",
		EmitPath: "/out/${path.1}",
		Template: map[string]any{
			"${path.1}": []any{"${path.0}", json.Number("7"), true},
		},
	})
	require.NoError(t, err)

	d := makeTestDocument(t, "/input/doc1", "in@v1", `{}`)
	r, err := p.Apply(d, "")
	require.NoError(t, err)
	require.NotNil(t, r)

	obj := r.Data.(map[string]any)
	arr, ok := obj["doc1"].([]any)
	require.True(t, ok, "object keys are substituted too")
	assert.Equal(t, "input", arr[0])
	assert.Equal(t, json.Number("7"), arr[1], "non-string leaves pass through unchanged")
	assert.Equal(t, true, arr[2])
}

func TestApply_OriginStampsProducedBy(t *testing.T) {
	p, err := Compile(Definition{
		Name:     "r",
		Watch:    "/input/*",
		Emit:     "out@v1",
		EmitPath: "/out/${path.1}",
		Template: map[string]any{},
	})
	require.NoError(t, err)

	d := makeTestDocument(t, "/input/doc1", "in@v1", `{}`)

	r, err := p.Apply(d, "mind")
	require.NoError(t, err)
	assert.Equal(t, "mind", r.Meta.ProducedBy)

	r, err = p.Apply(d, "")
	require.NoError(t, err)
	assert.Empty(t, r.Meta.ProducedBy)
}

func TestApply_IgnoresDocumentOrigin(t *testing.T) {
	p, err := Compile(Definition{
		Name:     "r",
		Watch:    "/out/*",
		Emit:     "out@v1",
		EmitPath: "/out/again",
		Template: map[string]any{},
	})
	require.NoError(t, err)

	// Loop prevention is the runtime's policy; a pattern applied
	// directly still fires on a document its own origin produced.
	d := makeTestDocument(t, "/out/doc1", "out@v1", `{}`)
	d.Meta.ProducedBy = "mind"

	r, err := p.Apply(d, "mind")
	require.NoError(t, err)
	assert.NotNil(t, r)
}

func TestApply_Deterministic(t *testing.T) {
	def := Definition{
		Name:     "r",
		Watch:    "/input/*",
		Extract:  `"value":(\d+)`,
		Emit:     "out@v1",
		EmitPath: "/out/${path.1}",
		Template: map[string]any{"captured": "${1}"},
	}
	d := makeTestDocument(t, "/input/doc123", "in@v1", `{"value":42,"name":"test"}`)

	var renders [][]byte
	for i := 0; i < 2; i++ {
		p, err := Compile(def)
		require.NoError(t, err)
		r, err := p.Apply(d, "mind")
		require.NoError(t, err)
		require.NotNil(t, r)

		b, err := doc.MarshalCanonical(map[string]any{
			"key": r.Key, "type": r.Type, "data": r.Data,
		})
		require.NoError(t, err)
		renders = append(renders, b)
	}

	assert.Equal(t, renders[0], renders[1],
		"compiling the same definition twice must yield byte-identical reactions")
}

func TestApply_EndToEndRendering(t *testing.T) {
	p, err := Compile(Definition{
		Name:     "e2e",
		Watch:    "/input/*",
		Extract:  `"value":(\d+)`,
		Emit:     "output@v1",
		EmitPath: "/output/${path.1}",
		Template: map[string]any{"captured": "${1}"},
	})
	require.NoError(t, err)

	d := makeTestDocument(t, "/input/doc123", "input@v1", `{"value":42,"name":"test"}`)
	r, err := p.Apply(d, "mind")
	require.NoError(t, err)
	require.NotNil(t, r)

	assert.Equal(t, "/output/doc123", r.Key)
	assert.Equal(t, "output@v1", r.Type)
	assert.Equal(t, map[string]any{"captured": "42"}, r.Data)
}

func TestFromDocument(t *testing.T) {
	d := makeTestDocument(t, "/sys/mind/patterns/notify", "mind/pattern@v1",
		`{"name":"notify","watch":"/input/*","emit":"out@v1","emit_path":"/out/${path.1}","template":{"k":"${path.1}"}}`)

	p, err := FromDocument(d)
	require.NoError(t, err)
	assert.Equal(t, "notify", p.Name())
	assert.True(t, p.MatchesPath("/input/x"))
}

func TestFromDocument_RejectsNonObjectData(t *testing.T) {
	d := makeTestDocument(t, "/sys/mind/patterns/bad", "mind/pattern@v1", `"just a string"`)
	_, err := FromDocument(d)
	assert.Error(t, err)
}
