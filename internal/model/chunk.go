package model

type Chunk struct {
	ID        string `json:"id"`
	Text      string `json:"text"`
	Type      string `json:"type"`
	PatientID string `json:"patient_id"`
}

const (
	MetaKeyType      = "type"
	MetaKeyPatientID = "patient_id"
)

func (c *Chunk) Metadata() map[string]string {
	return map[string]string{
		MetaKeyType:      c.Type,
		MetaKeyPatientID: c.PatientID,
	}
}
