package fhir

import "time"

// CapabilityStatement represents the FHIR CapabilityStatement (metadata).
type CapabilityStatement struct {
	ResourceType   string            `json:"resourceType"`
	Status         string            `json:"status"`
	Date           string            `json:"date"`
	Kind           string            `json:"kind"`
	FHIRVersion    string            `json:"fhirVersion"`
	Format         []string          `json:"format"`
	Implementation *CSImplementation `json:"implementation,omitempty"`
	Rest           []CSRest          `json:"rest"`
}

type CSImplementation struct {
	Description string `json:"description"`
	URL         string `json:"url,omitempty"`
}

type CSRest struct {
	Mode     string       `json:"mode"`
	Resource []CSResource `json:"resource"`
}

type CSResource struct {
	Type        string          `json:"type"`
	Interaction []CSInteraction `json:"interaction"`
	SearchParam []CSSearchParam `json:"searchParam,omitempty"`
	Operation   []CSOperation   `json:"operation,omitempty"`
}

type CSInteraction struct {
	Code string `json:"code"`
}

type CSSearchParam struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

type CSOperation struct {
	Name       string `json:"name"`
	Definition string `json:"definition"`
}

// SearchParams lists the parameters every resource type understands.
var SearchParams = []CSSearchParam{
	{Name: "_id", Type: "token"},
	{Name: "identifier", Type: "token"},
	{Name: "name", Type: "string"},
	{Name: "gender", Type: "token"},
	{Name: "birthdate", Type: "date"},
}

// NewCapabilityStatement describes a read-only server exposing the given
// resource types.
func NewCapabilityStatement(baseURL string, resourceTypes []string) *CapabilityStatement {
	resources := make([]CSResource, 0, len(resourceTypes))
	for _, rt := range resourceTypes {
		resources = append(resources, CSResource{
			Type: rt,
			Interaction: []CSInteraction{
				{Code: "read"},
				{Code: "search-type"},
			},
			SearchParam: SearchParams,
			Operation: []CSOperation{
				{Name: "summary", Definition: baseURL + "/OperationDefinition/" + rt + "-summary"},
			},
		})
	}

	return &CapabilityStatement{
		ResourceType: "CapabilityStatement",
		Status:       "active",
		Date:         time.Now().UTC().Format("2006-01-02"),
		Kind:         "instance",
		FHIRVersion:  "4.0.1",
		Format:       []string{"json"},
		Implementation: &CSImplementation{
			Description: "File-backed FHIR search emulator",
			URL:         baseURL,
		},
		Rest: []CSRest{
			{Mode: "server", Resource: resources},
		},
	}
}
