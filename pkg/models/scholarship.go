package models

// NotAvailable is the placeholder for fields missing from a listing card
const NotAvailable = "N/A"

// CSV column names shared with the analysis page and the export file
const (
	ColumnTitle     = "Nama Beasiswa"
	ColumnDegrees   = "Jenjang"
	ColumnCountries = "Negara"
	ColumnOpenDate  = "Tanggal Mulai"
	ColumnCloseDate = "Deadline"
	ColumnLink      = "Link"
)

// Columns lists the output schema in export order
var Columns = []string{
	ColumnTitle,
	ColumnDegrees,
	ColumnCountries,
	ColumnOpenDate,
	ColumnCloseDate,
	ColumnLink,
}

// Scholarship represents one scholarship listing
type Scholarship struct {
	Title     string `json:"Nama Beasiswa"`
	Degrees   string `json:"Jenjang"`
	Countries string `json:"Negara"`
	OpenDate  string `json:"Tanggal Mulai"`
	CloseDate string `json:"Deadline"`
	Link      string `json:"Link"`
}

// Row returns the record in Columns order
func (s Scholarship) Row() []string {
	return []string{s.Title, s.Degrees, s.Countries, s.OpenDate, s.CloseDate, s.Link}
}

// Dedupe drops every record whose Link was already seen, keeping the first occurrence.
// The input slice is not modified.
func Dedupe(records []Scholarship) []Scholarship {
	seen := make(map[string]struct{}, len(records))
	unique := make([]Scholarship, 0, len(records))
	for _, r := range records {
		if _, ok := seen[r.Link]; ok {
			continue
		}
		seen[r.Link] = struct{}{}
		unique = append(unique, r)
	}
	return unique
}
