package domain

// StatusDefinition is one entry of the presence status catalog.
type StatusDefinition struct {
	ID           int     `json:"id"`
	Name         string  `json:"name"`
	Color        string  `json:"color"`
	Icon         *string `json:"icon,omitempty"`
	Description  *string `json:"description,omitempty"`
	DisplayOrder int     `json:"displayOrder"`
}

// DefaultStatuses seeds an empty catalog.
func DefaultStatuses() []StatusDefinition {
	return []StatusDefinition{
		{ID: 1, Name: "Active", Color: "#28a745", Icon: strPtr("check-circle"), Description: strPtr("Available"), DisplayOrder: 1},
		{ID: 2, Name: "Busy", Color: "#dc3545", Icon: strPtr("minus-circle"), Description: strPtr("Do not disturb"), DisplayOrder: 2},
		{ID: 3, Name: "Away", Color: "#ffc107", Icon: strPtr("clock"), Description: strPtr("Away from the desk"), DisplayOrder: 3},
		{ID: 4, Name: "In a meeting", Color: "#17a2b8", Icon: strPtr("users"), Description: strPtr("In a meeting"), DisplayOrder: 4},
	}
}

func strPtr(s string) *string {
	return &s
}
