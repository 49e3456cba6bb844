package domain

import "time"

// TripStatus represents the current status of a trip.
type TripStatus string

const (
	TripStatusCreated           TripStatus = "CREATED"
	TripStatusApproved          TripStatus = "APPROVED"
	TripStatusCheckedInByHost   TripStatus = "CHECKED_IN_BY_HOST"
	TripStatusCheckedInByGuest  TripStatus = "CHECKED_IN_BY_GUEST"
	TripStatusCheckedOutByGuest TripStatus = "CHECKED_OUT_BY_GUEST"
	TripStatusCheckedOutByHost  TripStatus = "CHECKED_OUT_BY_HOST"
	TripStatusFinished          TripStatus = "FINISHED"
	TripStatusCanceled          TripStatus = "CANCELED"
)

// tripStatusOrder is the position of each status along the lifecycle.
var tripStatusOrder = map[TripStatus]int{
	TripStatusCreated:           0,
	TripStatusApproved:          1,
	TripStatusCheckedInByHost:   2,
	TripStatusCheckedInByGuest:  3,
	TripStatusCheckedOutByGuest: 4,
	TripStatusCheckedOutByHost:  5,
	TripStatusFinished:          6,
	TripStatusCanceled:          7,
}

// IsTerminal reports whether no further transition is possible.
func (s TripStatus) IsTerminal() bool {
	return s == TripStatusFinished || s == TripStatusCanceled
}

// IsValid reports whether s is a known status.
func (s TripStatus) IsValid() bool {
	_, ok := tripStatusOrder[s]
	return ok
}

// AtLeast reports whether s is at or past other on the lifecycle.
// Canceled is never "at least" anything but itself.
func (s TripStatus) AtLeast(other TripStatus) bool {
	if s == TripStatusCanceled {
		return other == TripStatusCanceled
	}
	return tripStatusOrder[s] >= tripStatusOrder[other]
}

// Readings is a fuel/odometer snapshot submitted at check-in or check-out.
type Readings struct {
	FuelLevel int64 `json:"fuel_level"`
	Odometer  int64 `json:"odometer"`
}

// InsuranceInfo is recorded by the host at check-in.
type InsuranceInfo struct {
	Company      string `json:"company"`
	PolicyNumber string `json:"policy_number"`
}

// Trip represents a rental of one car by one guest from one host.
type Trip struct {
	ID            int64
	CarID         int64
	Guest         string
	Host          string
	Status        TripStatus
	StartDateTime time.Time
	EndDateTime   time.Time
	Currency      string

	PaymentInfo     PaymentInfo
	TransactionInfo *TransactionInfo // Set once, when money movement is final.

	PickUpLocation *Location
	ReturnLocation *Location

	HostCheckIn   *Readings
	GuestCheckIn  *Readings
	GuestCheckOut *Readings
	HostCheckOut  *Readings
	Insurance     *InsuranceInfo

	// CheckedOutWithoutGuest marks the path where the host checked out
	// before the guest did; the guest confirms with confirmCheckOut.
	CheckedOutWithoutGuest bool

	CreatedAt       time.Time
	StatusChangedAt time.Time
}

// StartReadings returns the readings taken when the trip began.
func (t *Trip) StartReadings() Readings {
	switch {
	case t.GuestCheckIn != nil:
		return *t.GuestCheckIn
	case t.HostCheckIn != nil:
		return *t.HostCheckIn
	}
	return Readings{}
}

// EndReadings returns the readings taken when the trip ended.
func (t *Trip) EndReadings() Readings {
	switch {
	case t.HostCheckOut != nil:
		return *t.HostCheckOut
	case t.GuestCheckOut != nil:
		return *t.GuestCheckOut
	}
	return Readings{}
}

// TripDays returns the number of rental days for a window, rounded up, minimum one.
func TripDays(start, end time.Time) int64 {
	const day = 24 * time.Hour
	d := end.Sub(start)
	if d <= 0 {
		return 1
	}
	days := int64(d / day)
	if d%day != 0 {
		days++
	}
	if days < 1 {
		days = 1
	}
	return days
}

// Receipt is the guest/host facing summary of a finished or canceled trip.
type Receipt struct {
	ID                       string
	TripID                   int64
	CarID                    int64
	Guest                    string
	Host                     string
	TotalDayPriceInFiatCents int64
	TotalTripDays            int64
	DiscountAmount           int64
	SalesTax                 int64
	GovernmentTax            int64
	DeliveryFee              int64
	DepositReceived          int64
	DepositRefund            int64
	PlatformFee              int64
	TripEarnings             int64
	TotalInFiatCents         int64
	Currency                 string
	StartFuelLevel           int64
	EndFuelLevel             int64
	StartOdometer            int64
	EndOdometer              int64
	StartDateTime            time.Time
	EndDateTime              time.Time
	Status                   TripStatus
	CreatedAt                time.Time
}
