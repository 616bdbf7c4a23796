package store

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tariffd/internal/model"
)

func TestFileStoreRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", DefaultFileName)
	s := NewFileStore(path)

	in := model.ScheduleMap{
		model.Monday:    {{"22:00", "24:00"}},
		model.Wednesday: {{"12:00", "14:00"}, {"22:00", "24:00"}},
		model.Sunday:    {},
	}
	require.NoError(t, s.Save(in))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	out, err := s.Load()
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestFileStoreFormat(t *testing.T) {
	path := filepath.Join(t.TempDir(), DefaultFileName)
	s := NewFileStore(path)
	require.NoError(t, s.Save(model.ScheduleMap{
		model.Tuesday: {{"00:00", "06:00"}},
		model.Monday:  {{"22:00", "24:00"}},
	}))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.JSONEq(t, `{"0": [["22:00","24:00"]], "1": [["00:00","06:00"]]}`, string(raw))
	assert.Contains(t, string(raw), "\n    \"0\"")
}

func TestFileStoreOverwriteLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	s := NewFileStore(filepath.Join(dir, DefaultFileName))
	require.NoError(t, s.Save(model.ScheduleMap{model.Monday: {{"01:00", "02:00"}}}))
	require.NoError(t, s.Save(model.ScheduleMap{model.Friday: {{"03:00", "04:00"}}}))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	out, err := s.Load()
	require.NoError(t, err)
	assert.Equal(t, model.ScheduleMap{model.Friday: {{"03:00", "04:00"}}}, out)
}

func TestFileStoreLoadDuringSaves(t *testing.T) {
	s := NewFileStore(filepath.Join(t.TempDir(), DefaultFileName))
	a := model.ScheduleMap{model.Monday: {{"22:00", "24:00"}}}
	b := model.ScheduleMap{
		model.Tuesday:  {{"00:00", "06:00"}, {"13:00", "15:00"}},
		model.Saturday: {{"00:00", "24:00"}},
	}
	require.NoError(t, s.Save(a))

	done := make(chan error, 1)
	go func() {
		for i := 0; i < 200; i++ {
			next := a
			if i%2 == 0 {
				next = b
			}
			if err := s.Save(next); err != nil {
				done <- err
				return
			}
		}
		done <- nil
	}()

	for {
		got, err := s.Load()
		require.NoError(t, err)
		if !assert.ObjectsAreEqual(a, got) && !assert.ObjectsAreEqual(b, got) {
			t.Fatalf("load returned a document that was never saved: %v", got)
		}
		select {
		case err := <-done:
			require.NoError(t, err)
			return
		default:
		}
	}
}

func TestFileStoreMissing(t *testing.T) {
	s := NewFileStore(filepath.Join(t.TempDir(), DefaultFileName))
	_, err := s.Load()
	assert.ErrorIs(t, err, ErrStoreMissing)
}

func TestDecodeCorrupt(t *testing.T) {
	cases := map[string]string{
		"not json":         `{"0": [[`,
		"null document":    `null`,
		"array document":   `[]`,
		"bad key":          `{"monday": [["22:00","24:00"]]}`,
		"key out of range": `{"7": [["22:00","24:00"]]}`,
		"zero padded key":  `{"00": [["22:00","24:00"]]}`,
		"signed key":       `{"+1": [["22:00","24:00"]]}`,
		"aliased keys":     `{"0": [], "00": [["22:00","24:00"]]}`,
		"short pair":       `{"0": [["22:00"]]}`,
		"number values":    `{"0": [[1320, 1440]]}`,
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Decode([]byte(doc))
			assert.True(t, errors.Is(err, ErrStoreCorrupt), "got %v", err)
		})
	}
}

func TestFileStoreCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), DefaultFileName)
	require.NoError(t, os.WriteFile(path, []byte("garbage"), 0o600))

	_, err := NewFileStore(path).Load()
	assert.ErrorIs(t, err, ErrStoreCorrupt)
}

func TestEncodeRejectsInvalidWeekday(t *testing.T) {
	_, err := Encode(model.ScheduleMap{model.Weekday(9): nil})
	assert.Error(t, err)
}

func TestMemoryStore(t *testing.T) {
	s := NewMemoryStore()
	_, err := s.Load()
	assert.ErrorIs(t, err, ErrStoreMissing)

	in := model.ScheduleMap{model.Monday: {{"22:00", "24:00"}}}
	require.NoError(t, s.Save(in))
	in[model.Monday][0] = model.Pair{"x", "y"}

	out, err := s.Load()
	require.NoError(t, err)
	assert.Equal(t, model.Pair{"22:00", "24:00"}, out[model.Monday][0])

	s.Corrupt()
	_, err = s.Load()
	assert.ErrorIs(t, err, ErrStoreCorrupt)

	require.NoError(t, s.Save(nil))
	out, err = s.Load()
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestDays(t *testing.T) {
	days := Days(model.ScheduleMap{model.Sunday: nil, model.Monday: nil, model.Thursday: nil})
	assert.Equal(t, []model.Weekday{model.Monday, model.Thursday, model.Sunday}, days)
}
