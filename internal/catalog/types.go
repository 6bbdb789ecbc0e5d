package catalog

// ServiceCenter is one booking backend instance from the published
// directory, keyed by postal code. Immutable after load.
type ServiceCenter struct {
	PLZ      string `json:"PLZ"`
	Name     string `json:"Zentrumsname"`
	Locality string `json:"Ort"`
	BaseURL  string `json:"URL"`
}

// Qualification is a named eligibility category offered by a center.
type Qualification struct {
	ID           string `json:"qualification"`
	Name         string `json:"name"`
	EligibleAge  string `json:"age"`
	IntervalDays int    `json:"interval"`
}

// NamesByID builds the id→display-name map kept for logging assigned
// qualifications after login.
func NamesByID(quals []Qualification) map[string]string {
	names := make(map[string]string, len(quals))
	for _, q := range quals {
		names[q.ID] = q.Name
	}
	return names
}
