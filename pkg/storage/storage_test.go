package storage

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/orneryd/rulechain/pkg/rules"
)

func sampleRuleSet(name string) *RuleSet {
	return &RuleSet{
		Name:        name,
		Description: "chain",
		Rules: []rules.Record{
			{ID: "1", VeTrai: "A, B", VePhai: "C"},
			{ID: "2", Premise: []string{"C"}, Conclusion: "D", Note: "D from C"},
		},
	}
}

// engineFactories runs the shared contract against every engine.
func engineFactories(t *testing.T) map[string]func() Engine {
	return map[string]func() Engine{
		"memory": func() Engine { return NewMemoryEngine() },
		"badger": func() Engine {
			e, err := NewBadgerEngineInMemory()
			require.NoError(t, err)
			return e
		},
	}
}

func TestEngineContract(t *testing.T) {
	for name, newEngine := range engineFactories(t) {
		t.Run(name, func(t *testing.T) {
			t.Run("put and get", func(t *testing.T) {
				e := newEngine()
				defer e.Close()

				require.NoError(t, e.Put(sampleRuleSet("triangle")))
				got, err := e.Get("triangle")
				require.NoError(t, err)

				assert.Equal(t, "triangle", got.Name)
				assert.Equal(t, "chain", got.Description)
				require.Len(t, got.Rules, 2)
				assert.Equal(t, []string{"C"}, got.Rules[1].Premise)
				assert.Equal(t, rules.ContentFingerprint(rules.ToRules(sampleRuleSet("x").Rules)), got.Checksum)
				assert.False(t, got.CreatedAt.IsZero())
				assert.Equal(t, got.CreatedAt, got.UpdatedAt)
			})

			t.Run("replace keeps created time", func(t *testing.T) {
				e := newEngine()
				defer e.Close()

				require.NoError(t, e.Put(sampleRuleSet("book")))
				first, err := e.Get("book")
				require.NoError(t, err)

				time.Sleep(2 * time.Millisecond)
				updated := sampleRuleSet("book")
				updated.Rules = updated.Rules[:1]
				require.NoError(t, e.Put(updated))

				second, err := e.Get("book")
				require.NoError(t, err)
				assert.True(t, first.CreatedAt.Equal(second.CreatedAt))
				assert.True(t, second.UpdatedAt.After(first.UpdatedAt))
				assert.NotEqual(t, first.Checksum, second.Checksum)
				assert.Len(t, second.Rules, 1)
			})

			t.Run("list sorted by name", func(t *testing.T) {
				e := newEngine()
				defer e.Close()

				for _, n := range []string{"zeta", "alpha", "mid"} {
					require.NoError(t, e.Put(sampleRuleSet(n)))
				}
				list, err := e.List()
				require.NoError(t, err)
				require.Len(t, list, 3)
				assert.Equal(t, "alpha", list[0].Name)
				assert.Equal(t, "mid", list[1].Name)
				assert.Equal(t, "zeta", list[2].Name)
			})

			t.Run("empty list", func(t *testing.T) {
				e := newEngine()
				defer e.Close()
				list, err := e.List()
				require.NoError(t, err)
				assert.Empty(t, list)
			})

			t.Run("delete", func(t *testing.T) {
				e := newEngine()
				defer e.Close()

				require.NoError(t, e.Put(sampleRuleSet("gone")))
				require.NoError(t, e.Delete("gone"))
				_, err := e.Get("gone")
				assert.True(t, errors.Is(err, ErrNotFound))
				assert.True(t, errors.Is(e.Delete("gone"), ErrNotFound))
			})

			t.Run("invalid names", func(t *testing.T) {
				e := newEngine()
				defer e.Close()

				for _, n := range []string{"", "has space", "../etc", "-dash"} {
					err := e.Put(sampleRuleSet(n))
					assert.True(t, errors.Is(err, ErrInvalidName), "name %q", n)
				}
				assert.True(t, errors.Is(e.Put(nil), ErrInvalidData))
			})

			t.Run("missing", func(t *testing.T) {
				e := newEngine()
				defer e.Close()
				_, err := e.Get("nope")
				assert.True(t, errors.Is(err, ErrNotFound))
			})

			t.Run("closed", func(t *testing.T) {
				e := newEngine()
				require.NoError(t, e.Close())
				require.NoError(t, e.Close())

				assert.True(t, errors.Is(e.Put(sampleRuleSet("x")), ErrStorageClosed))
				_, err := e.Get("x")
				assert.True(t, errors.Is(err, ErrStorageClosed))
				_, err = e.List()
				assert.True(t, errors.Is(err, ErrStorageClosed))
			})

			t.Run("stored copy is isolated", func(t *testing.T) {
				e := newEngine()
				defer e.Close()

				rs := sampleRuleSet("iso")
				require.NoError(t, e.Put(rs))
				rs.Rules[1].Premise[0] = "changed"

				got, err := e.Get("iso")
				require.NoError(t, err)
				assert.Equal(t, []string{"C"}, got.Rules[1].Premise)
			})
		})
	}
}

func TestValidateName(t *testing.T) {
	assert.NoError(t, ValidateName("geometry-16.v2"))
	assert.Error(t, ValidateName(""))
	assert.Error(t, ValidateName("a/b"))
}

func TestBadgerEngine_Persistence(t *testing.T) {
	dir := t.TempDir()

	e, err := NewBadgerEngine(dir)
	require.NoError(t, err)
	require.NoError(t, e.Put(sampleRuleSet("kept")))
	require.NoError(t, e.Close())

	reopened, err := NewBadgerEngine(dir)
	require.NoError(t, err)
	defer reopened.Close()

	got, err := reopened.Get("kept")
	require.NoError(t, err)
	assert.Len(t, got.Rules, 2)
}

func TestBadgerLogger(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	l := NewBadgerLogger(zap.New(core))

	l.Errorf("boom %d", 1)
	l.Warningf("careful")
	l.Infof("compacting")

	entries := logs.All()
	require.Len(t, entries, 3)
	assert.Equal(t, "boom 1", entries[0].Message)
	assert.Equal(t, zap.WarnLevel, entries[1].Level)
	assert.Equal(t, zap.DebugLevel, entries[2].Level)
	assert.Equal(t, "badger", entries[0].LoggerName)
}
