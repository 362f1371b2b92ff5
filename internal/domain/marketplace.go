package domain

// Marketplace holds the per-marketplace upstream parameters: where to send
// the request, which region signs it, and the partner tag it carries.
type Marketplace struct {
	Code       string `json:"code"`
	Endpoint   string `json:"endpoint"`
	Region     string `json:"region"`
	PartnerTag string `json:"partner_tag"`
}
