package manifest

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ti-toolbox/tit-core/runner"
	"github.com/ti-toolbox/tit-core/simconfig"
)

func sampleResults() []runner.Result {
	return []runner.Result{
		{MontageName: "b", MontageType: simconfig.ModeTI, Status: "completed", SubmissionIndex: 1, OutputMesh: "/tmp/b.msh"},
		{MontageName: "a", MontageType: simconfig.ModeTI, Status: "failed", SubmissionIndex: 0, Err: assertErr("solver exploded")},
		{MontageName: "c", MontageType: simconfig.ModeMTI, Status: "completed", SubmissionIndex: 2, OutputMesh: "/tmp/c.msh"},
	}
}

type assertErr string

func (e assertErr) Error() string { return string(e) }

func TestFromResults_GroupsAndOrdersBySubmissionIndex(t *testing.T) {
	m := FromResults("sess-1", "101", "/proj", "/proj/sim", "20260801T000000Z", sampleResults())

	require.Len(t, m.Completed, 2)
	require.Len(t, m.Failed, 1)
	assert.Equal(t, "b", m.Completed[0].MontageName)
	assert.Equal(t, "c", m.Completed[1].MontageName)
	assert.Equal(t, "a", m.Failed[0].MontageName)
	assert.Equal(t, "solver exploded", m.Failed[0].Error)

	assert.Equal(t, Totals{Submitted: 3, Completed: 2, Failed: 1}, m.Totals)
}

func TestFromResults_TotalityInvariant(t *testing.T) {
	m := FromResults("sess-2", "101", "/proj", "/proj/sim", "ts", sampleResults())
	assert.Equal(t, len(sampleResults()), len(m.Completed)+len(m.Failed))
}

func TestJSONFileWriter_WritesExpectedFilename(t *testing.T) {
	dir := t.TempDir()
	w := JSONFileWriter{Dir: dir}
	m := FromResults("sess-3", "101", "/proj", "/proj/sim", "20260801T010203Z", sampleResults())

	require.NoError(t, w.Write(m))

	path := filepath.Join(dir, "sub-101_20260801T010203Z.json")
	body, err := os.ReadFile(path)
	require.NoError(t, err)

	var roundTrip Manifest
	require.NoError(t, json.Unmarshal(body, &roundTrip))
	assert.Equal(t, m.SessionID, roundTrip.SessionID)
	assert.Equal(t, m.Totals, roundTrip.Totals)
}

func TestMultiWriter_ContinuesPastFailingWriter(t *testing.T) {
	dir := t.TempDir()
	good := JSONFileWriter{Dir: dir}
	bad := JSONFileWriter{Dir: filepath.Join(dir, "does", "not", "exist", string([]byte{0}))}
	mw := MultiWriter{Writers: []Writer{bad, good}}

	m := FromResults("sess-4", "101", "/proj", "/proj/sim", "ts2", sampleResults())
	err := mw.Write(m)
	assert.Error(t, err)

	_, statErr := os.Stat(filepath.Join(dir, "sub-101_ts2.json"))
	assert.NoError(t, statErr)
}

func TestJWTDigester_SignAndVerifyRoundTrip(t *testing.T) {
	m := FromResults("sess-5", "101", "/proj", "/proj/sim", "ts3", sampleResults())
	d := JWTDigester{SecretKey: "test-secret"}

	token, err := d.Sign(m)
	require.NoError(t, err)
	require.NotEmpty(t, token)

	ok, err := VerifyDigest(token, "test-secret", m)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestJWTDigester_DetectsTamperedManifest(t *testing.T) {
	m := FromResults("sess-6", "101", "/proj", "/proj/sim", "ts4", sampleResults())
	d := JWTDigester{SecretKey: "test-secret"}

	token, err := d.Sign(m)
	require.NoError(t, err)

	tampered := m
	tampered.Totals.Completed = 999

	ok, err := VerifyDigest(token, "test-secret", tampered)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestJWTDigester_WrongKeyFailsVerification(t *testing.T) {
	m := FromResults("sess-7", "101", "/proj", "/proj/sim", "ts5", sampleResults())
	d := JWTDigester{SecretKey: "right-secret"}

	token, err := d.Sign(m)
	require.NoError(t, err)

	_, err = VerifyDigest(token, "wrong-secret", m)
	assert.Error(t, err)
}

func TestSignedJSONFileWriter_WritesSidecarJWT(t *testing.T) {
	dir := t.TempDir()
	w := SignedJSONFileWriter{
		JSONFileWriter: JSONFileWriter{Dir: dir},
		Digester:       JWTDigester{SecretKey: "s"},
	}
	m := FromResults("sess-8", "101", "/proj", "/proj/sim", "ts6", sampleResults())

	require.NoError(t, w.Write(m))

	_, err := os.Stat(filepath.Join(dir, "sub-101_ts6.json"))
	require.NoError(t, err)
	_, err = os.Stat(filepath.Join(dir, "sub-101_ts6.jwt"))
	require.NoError(t, err)
}

func TestSignedJSONFileWriter_NoDigesterWritesOnlyJSON(t *testing.T) {
	dir := t.TempDir()
	w := SignedJSONFileWriter{JSONFileWriter: JSONFileWriter{Dir: dir}}
	m := FromResults("sess-9", "101", "/proj", "/proj/sim", "ts7", sampleResults())

	require.NoError(t, w.Write(m))

	_, err := os.Stat(filepath.Join(dir, "sub-101_ts7.json"))
	require.NoError(t, err)
	_, err = os.Stat(filepath.Join(dir, "sub-101_ts7.jwt"))
	assert.Error(t, err)
}
