package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/lib/pq"

	"rental/internal/domain"
	"rental/internal/repository"
)

// TripRepository is a PostgreSQL implementation of repository.TripRepository.
type TripRepository struct {
	q Querier
}

// NewTripRepository creates a new PostgreSQL trip repository.
func NewTripRepository(db *sql.DB) *TripRepository {
	return &TripRepository{q: db}
}

// NewTripRepositoryWithTx creates a trip repository using a transaction.
func NewTripRepositoryWithTx(tx *sql.Tx) *TripRepository {
	return &TripRepository{q: tx}
}

// tripDetails is the JSONB document holding check-in/out data.
type tripDetails struct {
	PickUpLocation         *domain.Location      `json:"pick_up_location,omitempty"`
	ReturnLocation         *domain.Location      `json:"return_location,omitempty"`
	HostCheckIn            *domain.Readings      `json:"host_check_in,omitempty"`
	GuestCheckIn           *domain.Readings      `json:"guest_check_in,omitempty"`
	GuestCheckOut          *domain.Readings      `json:"guest_check_out,omitempty"`
	HostCheckOut           *domain.Readings      `json:"host_check_out,omitempty"`
	Insurance              *domain.InsuranceInfo `json:"insurance,omitempty"`
	CheckedOutWithoutGuest bool                  `json:"checked_out_without_guest,omitempty"`
}

const tripColumns = `id, car_id, guest, host, status, start_date_time, end_date_time, currency,
		payment_info, transaction_info, details, created_at, status_changed_at`

// Create persists a new trip and assigns its ID.
func (r *TripRepository) Create(ctx context.Context, trip *domain.Trip) error {
	query := `
		INSERT INTO trips (car_id, guest, host, status, start_date_time, end_date_time, currency,
			payment_info, transaction_info, details, created_at, status_changed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING id
	`

	payment, transaction, details, err := encodeTrip(trip)
	if err != nil {
		return err
	}

	return r.q.QueryRowContext(ctx, query,
		trip.CarID,
		trip.Guest,
		trip.Host,
		trip.Status,
		trip.StartDateTime,
		trip.EndDateTime,
		trip.Currency,
		payment,
		transaction,
		details,
		trip.CreatedAt,
		trip.StatusChangedAt,
	).Scan(&trip.ID)
}

// GetByID retrieves a trip by ID.
func (r *TripRepository) GetByID(ctx context.Context, id int64) (*domain.Trip, error) {
	query := `SELECT ` + tripColumns + ` FROM trips WHERE id = $1`
	return r.getOne(ctx, query, id)
}

// GetByIDForUpdate retrieves a trip by ID and locks its row.
func (r *TripRepository) GetByIDForUpdate(ctx context.Context, id int64) (*domain.Trip, error) {
	query := `SELECT ` + tripColumns + ` FROM trips WHERE id = $1 FOR UPDATE`
	return r.getOne(ctx, query, id)
}

func (r *TripRepository) getOne(ctx context.Context, query string, id int64) (*domain.Trip, error) {
	trip, err := scanTrip(r.q.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return trip, nil
}

// Update updates an existing trip.
func (r *TripRepository) Update(ctx context.Context, trip *domain.Trip) error {
	query := `
		UPDATE trips
		SET status = $2, payment_info = $3, transaction_info = $4, details = $5, status_changed_at = $6
		WHERE id = $1
	`

	payment, transaction, details, err := encodeTrip(trip)
	if err != nil {
		return err
	}

	result, err := r.q.ExecContext(ctx, query,
		trip.ID,
		trip.Status,
		payment,
		transaction,
		details,
		trip.StatusChangedAt,
	)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// ListByParticipant retrieves the trips where address is the guest or the host.
func (r *TripRepository) ListByParticipant(ctx context.Context, address string, limit int) ([]*domain.Trip, error) {
	query := `SELECT ` + tripColumns + ` FROM trips
		WHERE guest = $1 OR host = $1
		ORDER BY id DESC LIMIT $2`
	return r.list(ctx, query, address, limit)
}

// ListActiveForCar retrieves non-terminal trips of a car overlapping [start, end).
func (r *TripRepository) ListActiveForCar(ctx context.Context, carID int64, start, end time.Time) ([]*domain.Trip, error) {
	query := `SELECT ` + tripColumns + ` FROM trips
		WHERE car_id = $1
		  AND status NOT IN ('FINISHED', 'CANCELED')
		  AND start_date_time < $3 AND end_date_time > $2
		ORDER BY id`
	return r.list(ctx, query, carID, start, end)
}

// ListOverdue retrieves trips in any of the given statuses whose start or end
// time is before cutoff, earliest first.
func (r *TripRepository) ListOverdue(ctx context.Context, statuses []domain.TripStatus, by repository.TripDeadline, cutoff time.Time, limit int) ([]*domain.Trip, error) {
	values := make([]string, len(statuses))
	for i, s := range statuses {
		values[i] = string(s)
	}
	column := "start_date_time"
	if by == repository.ByEndTime {
		column = "end_date_time"
	}

	query := `SELECT ` + tripColumns + ` FROM trips
		WHERE status = ANY($1) AND ` + column + ` < $2
		ORDER BY ` + column + ` ASC, id ASC LIMIT $3`
	return r.list(ctx, query, pq.Array(values), cutoff, limit)
}

func (r *TripRepository) list(ctx context.Context, query string, args ...any) ([]*domain.Trip, error) {
	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var trips []*domain.Trip
	for rows.Next() {
		trip, err := scanTrip(rows)
		if err != nil {
			return nil, err
		}
		trips = append(trips, trip)
	}

	return trips, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTrip(row rowScanner) (*domain.Trip, error) {
	var trip domain.Trip
	var payment []byte
	var transaction []byte
	var details []byte

	if err := row.Scan(
		&trip.ID,
		&trip.CarID,
		&trip.Guest,
		&trip.Host,
		&trip.Status,
		&trip.StartDateTime,
		&trip.EndDateTime,
		&trip.Currency,
		&payment,
		&transaction,
		&details,
		&trip.CreatedAt,
		&trip.StatusChangedAt,
	); err != nil {
		return nil, err
	}

	if err := json.Unmarshal(payment, &trip.PaymentInfo); err != nil {
		return nil, err
	}
	if len(transaction) > 0 {
		trip.TransactionInfo = &domain.TransactionInfo{}
		if err := json.Unmarshal(transaction, trip.TransactionInfo); err != nil {
			return nil, err
		}
	}
	if len(details) > 0 {
		var d tripDetails
		if err := json.Unmarshal(details, &d); err != nil {
			return nil, err
		}
		trip.PickUpLocation = d.PickUpLocation
		trip.ReturnLocation = d.ReturnLocation
		trip.HostCheckIn = d.HostCheckIn
		trip.GuestCheckIn = d.GuestCheckIn
		trip.GuestCheckOut = d.GuestCheckOut
		trip.HostCheckOut = d.HostCheckOut
		trip.Insurance = d.Insurance
		trip.CheckedOutWithoutGuest = d.CheckedOutWithoutGuest
	}

	return &trip, nil
}

func encodeTrip(trip *domain.Trip) (payment, transaction, details any, err error) {
	if payment, err = jsonb(trip.PaymentInfo); err != nil {
		return nil, nil, nil, err
	}
	if trip.TransactionInfo != nil {
		if transaction, err = jsonb(trip.TransactionInfo); err != nil {
			return nil, nil, nil, err
		}
	}
	details, err = jsonb(tripDetails{
		PickUpLocation:         trip.PickUpLocation,
		ReturnLocation:         trip.ReturnLocation,
		HostCheckIn:            trip.HostCheckIn,
		GuestCheckIn:           trip.GuestCheckIn,
		GuestCheckOut:          trip.GuestCheckOut,
		HostCheckOut:           trip.HostCheckOut,
		Insurance:              trip.Insurance,
		CheckedOutWithoutGuest: trip.CheckedOutWithoutGuest,
	})
	return payment, transaction, details, err
}
