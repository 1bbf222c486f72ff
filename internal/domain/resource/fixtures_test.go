package resource

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/ehr/fhir-emulator/internal/platform/store"
)

var fixtureFiles = map[string]string{
	"Bundle/bundle-1.json": `{"resourceType":"Bundle","id":"bundle-1","type":"collection"}`,
	"Bundle/bundle-2.json": `{"resourceType":"Bundle","id":"bundle-2","type":"collection"}`,
	"Bundle/bundle-3.json": `{"resourceType":"Bundle","id":"bundle-3","type":"collection"}`,
	"Patient/patient-1.json": `{"resourceType":"Patient","id":"patient-1","gender":"female","birthDate":"1980-04-12",` +
		`"identifier":[{"system":"urn:mrn","value":"MRN-001"}],"name":[{"given":["Ann"],"family":"Lee"}]}`,
	"Patient/patient-2.json": `{"resourceType":"Patient","id":"patient-2","gender":"male","birthDate":"1975-01-02",` +
		`"identifier":[{"system":"urn:mrn","value":"MRN-002"}],"name":[{"given":["Bob"],"family":"Stone"}]}`,
	"Patient/patient-3.json": `{"resourceType":"Patient","id":"patient-3","gender":"female","birthDate":"1990-09-30",` +
		`"identifier":[{"system":"urn:mrn","value":"MRN-003"}],"name":[{"given":["Cara"],"family":"Diaz"}]}`,
	"Patient/zz-broken.json":         `{"resourceType":"Patient",`,
	"Patient/patient-1_summary.json": `{"resourceType":"Bundle","id":"patient-1-summary","type":"document"}`,
	"Patient/patient-3_summary.json": `{"resourceType":`,
}

func newFixtureSource(t *testing.T) *store.File {
	t.Helper()
	root := t.TempDir()
	for name, content := range fixtureFiles {
		p := filepath.Join(root, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	}
	return store.NewFile(root, zerolog.Nop())
}
