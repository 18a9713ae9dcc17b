package storage

import (
	"context"
	"database/sql"
	"time"

	"github.com/lib/pq"

	"github.com/example/fulfillment-tracker/internal/models"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	// quick ping
	if err := db.Ping(); err != nil {
		return nil, err
	}
	return &PostgresStore{db: db}, nil
}

const bookingColumns = `id, customer_id, provider_id, scheduled_date, scheduled_time,
	service_lat, service_lng, status, reject_reason, arrival_otp, otp_issued,
	otp_attempts, otp_issued_at, otp_verified_at, service_type, address, price,
	created_at, updated_at`

func (p *PostgresStore) Create(ctx context.Context, b *models.Booking) error {
	_, err := p.db.ExecContext(ctx, `INSERT INTO bookings(`+bookingColumns+`)
		VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19)`,
		b.ID, b.CustomerID, b.ProviderID, b.ScheduledDate, b.ScheduledTime,
		b.Service.Lat, b.Service.Lng, string(b.Status), b.RejectReason, b.ArrivalOTP,
		b.OTPIssued, b.OTPAttempts, b.OTPIssuedAt, b.OTPVerifiedAt,
		b.ServiceType, b.Address, b.Price, b.CreatedAt, b.UpdatedAt)
	return err
}

func (p *PostgresStore) Get(ctx context.Context, id string) (*models.Booking, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE id=$1`, id)
	return scanBooking(row)
}

func (p *PostgresStore) TransitionStatus(ctx context.Context, id string, from []models.BookingStatus, upd StatusUpdate) (*models.Booking, error) {
	row := p.db.QueryRowContext(ctx, `UPDATE bookings
		SET status=$2,
		    reject_reason=COALESCE($3, reject_reason),
		    otp_verified_at=COALESCE($4, otp_verified_at),
		    updated_at=now()
		WHERE id=$1 AND status = ANY($5)
		RETURNING `+bookingColumns,
		id, string(upd.To), upd.RejectReason, upd.OTPVerifiedAt, pq.Array(statusStrings(from)))
	b, err := scanBooking(row)
	if err == ErrNotFound {
		// distinguish a missing booking from a lost CAS race
		if _, gerr := p.Get(ctx, id); gerr == nil {
			return nil, ErrStaleStatus
		}
		return nil, ErrNotFound
	}
	return b, err
}

func (p *PostgresStore) ClaimOTP(ctx context.Context, id string) (bool, error) {
	res, err := p.db.ExecContext(ctx, `UPDATE bookings SET otp_issued=true, updated_at=now()
		WHERE id=$1 AND otp_issued=false`, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n == 0 {
		if _, gerr := p.Get(ctx, id); gerr != nil {
			return false, gerr
		}
		return false, nil
	}
	return true, nil
}

func (p *PostgresStore) ReleaseOTPClaim(ctx context.Context, id string) error {
	_, err := p.db.ExecContext(ctx, `UPDATE bookings SET otp_issued=false, updated_at=now() WHERE id=$1`, id)
	return err
}

func (p *PostgresStore) SetOTP(ctx context.Context, id, code string, issuedAt time.Time) error {
	_, err := p.db.ExecContext(ctx, `UPDATE bookings SET arrival_otp=$2, otp_issued_at=$3, updated_at=now() WHERE id=$1`, id, code, issuedAt)
	return err
}

func (p *PostgresStore) IncrementOTPAttempts(ctx context.Context, id string) (int, error) {
	var n int
	err := p.db.QueryRowContext(ctx, `UPDATE bookings SET otp_attempts=otp_attempts+1 WHERE id=$1 RETURNING otp_attempts`, id).Scan(&n)
	if err == sql.ErrNoRows {
		return 0, ErrNotFound
	}
	return n, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBooking(row rowScanner) (*models.Booking, error) {
	var b models.Booking
	var status string
	var rejectReason, arrivalOTP, serviceType, address sql.NullString
	var issuedAt, verifiedAt sql.NullTime
	err := row.Scan(&b.ID, &b.CustomerID, &b.ProviderID, &b.ScheduledDate, &b.ScheduledTime,
		&b.Service.Lat, &b.Service.Lng, &status, &rejectReason, &arrivalOTP,
		&b.OTPIssued, &b.OTPAttempts, &issuedAt, &verifiedAt,
		&serviceType, &address, &b.Price, &b.CreatedAt, &b.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	b.Status = models.BookingStatus(status)
	b.RejectReason = rejectReason.String
	b.ArrivalOTP = arrivalOTP.String
	b.ServiceType = serviceType.String
	b.Address = address.String
	if issuedAt.Valid {
		t := issuedAt.Time
		b.OTPIssuedAt = &t
	}
	if verifiedAt.Valid {
		t := verifiedAt.Time
		b.OTPVerifiedAt = &t
	}
	return &b, nil
}

func statusStrings(set []models.BookingStatus) []string {
	out := make([]string, len(set))
	for i, s := range set {
		out[i] = string(s)
	}
	return out
}
