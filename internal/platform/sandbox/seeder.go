// Package sandbox generates synthetic FHIR records laid out the way the file
// store reads them, so a demo or test environment can be filled with
// reproducible, clinically plausible data.
package sandbox

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"time"

	"github.com/ehr/fhir-emulator/internal/platform/store"
)

// SeedConfig controls the volume and shape of generated data. BundleSize is
// the number of patients grouped into each collection Bundle; zero disables
// Bundle output.
type SeedConfig struct {
	PatientCount           int   `json:"patientCount"`
	ConditionsPerPatient   int   `json:"conditionsPerPatient"`
	ObservationsPerPatient int   `json:"observationsPerPatient"`
	BundleSize             int   `json:"bundleSize"`
	Seed                   int64 `json:"seed"`
}

// DefaultSeedConfig returns a SeedConfig sized for local development.
func DefaultSeedConfig() SeedConfig {
	return SeedConfig{
		PatientCount:           25,
		ConditionsPerPatient:   2,
		ObservationsPerPatient: 3,
		BundleSize:             5,
	}
}

// SeedResult summarizes a generated data set.
type SeedResult struct {
	Patients     int `json:"patients"`
	Summaries    int `json:"summaries"`
	Conditions   int `json:"conditions"`
	Observations int `json:"observations"`
	Bundles      int `json:"bundles"`
	Files        int `json:"files"`
}

type codeEntry struct {
	Code    string
	Display string
}

type observationDef struct {
	Code    string
	Display string
	Unit    string
	Low     float64
	High    float64
}

var (
	firstNamesMale = []string{
		"James", "Robert", "John", "Michael", "David", "William", "Richard",
		"Joseph", "Thomas", "Daniel", "Matthew", "Anthony", "Kenji", "Tariq",
	}
	firstNamesFemale = []string{
		"Mary", "Patricia", "Jennifer", "Linda", "Elizabeth", "Susan",
		"Sarah", "Karen", "Nancy", "Margaret", "Emily", "Ada", "Priya",
	}
	lastNames = []string{
		"Smith", "Johnson", "Williams", "Brown", "Garcia", "Miller", "Davis",
		"Rodriguez", "Martinez", "Nguyen", "Okafor", "Nakamura", "Chalmers",
	}
	cities = []string{
		"Chicago", "Houston", "Phoenix", "Philadelphia", "San Diego",
		"Austin", "Columbus", "Charlotte",
	}

	icd10Conditions = []codeEntry{
		{"E11.9", "Type 2 diabetes mellitus without complications"},
		{"I10", "Essential (primary) hypertension"},
		{"J45.909", "Unspecified asthma, uncomplicated"},
		{"E78.5", "Hyperlipidemia, unspecified"},
		{"M54.5", "Low back pain"},
		{"E03.9", "Hypothyroidism, unspecified"},
		{"G43.909", "Migraine, unspecified, not intractable"},
		{"J30.9", "Allergic rhinitis, unspecified"},
	}

	loincObservations = []observationDef{
		{"8867-4", "Heart rate", "beats/minute", 50, 110},
		{"8310-5", "Body temperature", "degC", 36.0, 38.5},
		{"29463-7", "Body weight", "kg", 40, 150},
		{"8480-6", "Systolic blood pressure", "mmHg", 90, 180},
		{"8462-4", "Diastolic blood pressure", "mmHg", 50, 110},
		{"2708-6", "Oxygen saturation", "%", 92, 100},
		{"4548-4", "Hemoglobin A1c", "%", 4.0, 12.0},
	}
)

// DataGenerator produces deterministic synthetic resources.
type DataGenerator struct {
	rng     *rand.Rand
	counter uint64
}

// NewDataGenerator returns a generator seeded for reproducibility. If seed is
// 0 a time-based seed is chosen.
func NewDataGenerator(seed int64) *DataGenerator {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &DataGenerator{rng: rand.New(rand.NewSource(seed))}
}

func (g *DataGenerator) nextID(prefix string) string {
	g.counter++
	return fmt.Sprintf("%s-%04d-%06x", prefix, g.counter, g.rng.Intn(1<<24))
}

func (g *DataGenerator) pick(pool []string) string {
	return pool[g.rng.Intn(len(pool))]
}

func (g *DataGenerator) randomDate(minYear, maxYear int) string {
	y := minYear + g.rng.Intn(maxYear-minYear+1)
	m := 1 + g.rng.Intn(12)
	d := 1 + g.rng.Intn(28)
	return fmt.Sprintf("%04d-%02d-%02d", y, m, d)
}

func reference(resourceType, id string) map[string]any {
	return map[string]any{"reference": resourceType + "/" + id}
}

func coding(system, code, display string) map[string]any {
	return map[string]any{
		"coding": []any{
			map[string]any{"system": system, "code": code, "display": display},
		},
	}
}

// GeneratePatient produces a Patient carrying the fields the search filters
// read: identifier, name, gender and birthDate.
func (g *DataGenerator) GeneratePatient() map[string]any {
	gender, first := "female", g.pick(firstNamesFemale)
	if g.rng.Intn(2) == 0 {
		gender, first = "male", g.pick(firstNamesMale)
	}
	last := g.pick(lastNames)

	return map[string]any{
		"resourceType": "Patient",
		"id":           g.nextID("patient"),
		"identifier": []any{
			map[string]any{
				"system": "urn:oid:1.2.36.146.595.217.0.1",
				"value":  fmt.Sprintf("MRN-%08d", g.rng.Intn(100000000)),
			},
		},
		"active": true,
		"name": []any{
			map[string]any{"use": "official", "family": last, "given": []any{first}},
		},
		"gender":    gender,
		"birthDate": g.randomDate(1940, 2010),
		"address": []any{
			map[string]any{"use": "home", "city": g.pick(cities), "country": "US"},
		},
	}
}

// GenerateCondition produces an active Condition with an ICD-10 code.
func (g *DataGenerator) GenerateCondition(patientID string) map[string]any {
	c := icd10Conditions[g.rng.Intn(len(icd10Conditions))]
	return map[string]any{
		"resourceType":   "Condition",
		"id":             g.nextID("condition"),
		"clinicalStatus": coding("http://terminology.hl7.org/CodeSystem/condition-clinical", "active", "Active"),
		"code":           coding("http://hl7.org/fhir/sid/icd-10-cm", c.Code, c.Display),
		"subject":        reference("Patient", patientID),
		"onsetDateTime":  g.randomDate(2015, 2024) + "T00:00:00Z",
	}
}

// GenerateObservation produces a final vital-sign or lab Observation.
func (g *DataGenerator) GenerateObservation(patientID string) map[string]any {
	o := loincObservations[g.rng.Intn(len(loincObservations))]
	value := o.Low + g.rng.Float64()*(o.High-o.Low)
	value = float64(int(value*10)) / 10

	return map[string]any{
		"resourceType":      "Observation",
		"id":                g.nextID("observation"),
		"status":            "final",
		"code":              coding("http://loinc.org", o.Code, o.Display),
		"subject":           reference("Patient", patientID),
		"effectiveDateTime": g.randomDate(2020, 2024) + "T10:00:00Z",
		"valueQuantity": map[string]any{
			"value":  value,
			"unit":   o.Unit,
			"system": "http://unitsofmeasure.org",
			"code":   o.Unit,
		},
	}
}

// GenerateSummary builds the patient summary document served by $summary: a
// document Bundle whose Composition lists the patient's problems and results.
func (g *DataGenerator) GenerateSummary(patient map[string]any, conditions, observations []map[string]any) map[string]any {
	patientID := patient["id"].(string)
	compositionID := patientID + "-composition"

	sectionRefs := func(resources []map[string]any) []any {
		out := make([]any, 0, len(resources))
		for _, r := range resources {
			out = append(out, reference(r["resourceType"].(string), r["id"].(string)))
		}
		return out
	}

	composition := map[string]any{
		"resourceType": "Composition",
		"id":           compositionID,
		"status":       "final",
		"type":         coding("http://loinc.org", "60591-5", "Patient summary Document"),
		"subject":      reference("Patient", patientID),
		"date":         g.randomDate(2024, 2024) + "T12:00:00Z",
		"title":        "Patient Summary",
		"section": []any{
			map[string]any{
				"title": "Problems",
				"code":  coding("http://loinc.org", "11450-4", "Problem list"),
				"entry": sectionRefs(conditions),
			},
			map[string]any{
				"title": "Results",
				"code":  coding("http://loinc.org", "30954-2", "Relevant diagnostic tests/laboratory data"),
				"entry": sectionRefs(observations),
			},
		},
	}

	entries := []any{entry(composition), entry(patient)}
	for _, r := range conditions {
		entries = append(entries, entry(r))
	}
	for _, r := range observations {
		entries = append(entries, entry(r))
	}

	return map[string]any{
		"resourceType": "Bundle",
		"id":           patientID + "-summary",
		"type":         "document",
		"timestamp":    composition["date"],
		"entry":        entries,
	}
}

// GenerateCollection groups patients into a collection Bundle.
func (g *DataGenerator) GenerateCollection(patients []map[string]any) map[string]any {
	entries := make([]any, 0, len(patients))
	for _, p := range patients {
		entries = append(entries, entry(p))
	}
	return map[string]any{
		"resourceType": "Bundle",
		"id":           g.nextID("bundle"),
		"type":         "collection",
		"entry":        entries,
	}
}

func entry(resource map[string]any) map[string]any {
	return map[string]any{
		"fullUrl":  "urn:uuid:" + resource["id"].(string),
		"resource": resource,
	}
}

// File is one generated document and the path it is stored under, relative
// to the files directory.
type File struct {
	Path     string
	Resource map[string]any
}

// Seeder produces a complete files directory.
type Seeder struct {
	generator *DataGenerator
	config    SeedConfig
}

// NewSeeder creates a Seeder with the given config.
func NewSeeder(config SeedConfig) *Seeder {
	return &Seeder{
		generator: NewDataGenerator(config.Seed),
		config:    config,
	}
}

// Generate creates every file for the configured data set. Primary records are
// named after their id; each patient also gets a summary variant.
func (s *Seeder) Generate() ([]File, SeedResult) {
	var (
		files    []File
		result   SeedResult
		patients []map[string]any
	)
	add := func(r map[string]any) {
		name := r["id"].(string) + ".json"
		files = append(files, File{Path: filepath.Join(r["resourceType"].(string), name), Resource: r})
	}

	for i := 0; i < s.config.PatientCount; i++ {
		patient := s.generator.GeneratePatient()
		patientID := patient["id"].(string)
		add(patient)
		patients = append(patients, patient)

		conditions := make([]map[string]any, 0, s.config.ConditionsPerPatient)
		for j := 0; j < s.config.ConditionsPerPatient; j++ {
			c := s.generator.GenerateCondition(patientID)
			add(c)
			conditions = append(conditions, c)
		}
		observations := make([]map[string]any, 0, s.config.ObservationsPerPatient)
		for j := 0; j < s.config.ObservationsPerPatient; j++ {
			o := s.generator.GenerateObservation(patientID)
			add(o)
			observations = append(observations, o)
		}

		if name, ok := store.VariantName(patientID); ok {
			files = append(files, File{
				Path:     filepath.Join("Patient", name),
				Resource: s.generator.GenerateSummary(patient, conditions, observations),
			})
			result.Summaries++
		}
		result.Conditions += len(conditions)
		result.Observations += len(observations)
	}
	result.Patients = len(patients)

	if size := s.config.BundleSize; size > 0 {
		for start := 0; start < len(patients); start += size {
			end := min(start+size, len(patients))
			add(s.generator.GenerateCollection(patients[start:end]))
			result.Bundles++
		}
	}

	result.Files = len(files)
	return files, result
}

// WriteFiles generates the data set and writes it under dir, creating one
// folder per resource type. Existing files with the same names are replaced.
func (s *Seeder) WriteFiles(dir string) (SeedResult, error) {
	files, result := s.Generate()
	for _, f := range files {
		path := filepath.Join(dir, f.Path)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return result, fmt.Errorf("create %s: %w", filepath.Dir(path), err)
		}
		data, err := json.MarshalIndent(f.Resource, "", "  ")
		if err != nil {
			return result, fmt.Errorf("encoding %s: %w", f.Path, err)
		}
		if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
			return result, fmt.Errorf("write %s: %w", f.Path, err)
		}
	}
	return result, nil
}
