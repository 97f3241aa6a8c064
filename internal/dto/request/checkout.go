package request

type CheckoutRequest struct {
	ReferenceNo  string  `json:"referenceNo" validate:"required,max=64"`
	CinemaID     string  `json:"cinemaId" validate:"required,max=32"`
	ShowID       string  `json:"showId" validate:"required,max=32"`
	MembershipID string  `json:"membershipId,omitempty" validate:"omitempty,max=64"`
	Token        string  `json:"token,omitempty"`
	Amount       float64 `json:"amount" validate:"required,gt=0"`
	Currency     string  `json:"currency" validate:"required,iso4217"`
	BillName     string  `json:"billName" validate:"required,max=128"`
	BillEmail    string  `json:"billEmail" validate:"required,email"`
	BillMobile   string  `json:"billMobile" validate:"required,max=32"`
	BillDesc     string  `json:"billDesc" validate:"omitempty,max=255"`
}
