package domain

// Car is the catalog view of a listed car, as supplied by the car collaborator.
type Car struct {
	ID                     int64
	Host                   string
	Brand                  string
	Model                  string
	YearOfProduction       int
	PricePerDayInFiatCents int64
	DepositInFiatCents     int64
	Listed                 bool
	Location               *Location
}
