package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/Moha7763/queue-care-flow/internal/models"
	"github.com/Moha7763/queue-care-flow/internal/queue"
	"github.com/Moha7763/queue-care-flow/internal/store"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

const ticketColumns = `ticket_id, lane, service_date, ticket_number, status, postpone_count, emergency_class, emergency_reason, patient_name, patient_phone, access_token, created_at, completed_at`

func (s *Store) CreateTicket(ctx context.Context, input store.CreateTicketInput) (models.Ticket, error) {
	if _, ok := models.ParseLane(string(input.Lane)); !ok {
		return models.Ticket{}, store.ErrUnknownLane
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.Ticket{}, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	if input.RequestID != "" {
		existing, found, err2 := findTicketByRequestID(ctx, tx, input.RequestID)
		if err2 != nil {
			err = err2
			return models.Ticket{}, err
		}
		if found {
			if err = tx.Commit(ctx); err != nil {
				return models.Ticket{}, err
			}
			return existing, nil
		}
	}

	if err = ensureDaySettings(ctx, tx, input.Date); err != nil {
		return models.Ticket{}, err
	}

	number, err := nextTicketNumber(ctx, tx, input.Lane, input.Date)
	if err != nil {
		return models.Ticket{}, err
	}

	status := models.StatusWaiting
	if input.EmergencyClass == models.ClassEmergency {
		var hasCurrent bool
		row := tx.QueryRow(ctx, `
			SELECT EXISTS (
				SELECT 1 FROM tickets
				WHERE lane = $1 AND service_date = $2::date AND status = 'current'
			)
		`, input.Lane, input.Date)
		if err = row.Scan(&hasCurrent); err != nil {
			return models.Ticket{}, err
		}
		status = queue.CreateStatus(input.EmergencyClass, hasCurrent)
	}

	token, err := queue.NewAccessToken()
	if err != nil {
		return models.Ticket{}, err
	}

	createdAt := input.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	class := input.EmergencyClass
	if class == "" {
		class = models.ClassNone
	}

	ticket := models.Ticket{
		TicketID:        uuid.NewString(),
		Lane:            input.Lane,
		Number:          number,
		Status:          status,
		EmergencyClass:  class,
		EmergencyReason: input.EmergencyReason,
		PatientName:     input.PatientName,
		PatientPhone:    input.PatientPhone,
		Date:            input.Date,
		CreatedAt:       createdAt,
		AccessToken:     token,
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO tickets (
			ticket_id, request_id, lane, service_date, ticket_number, status,
			postpone_count, emergency_class, emergency_reason, patient_name,
			patient_phone, access_token, created_at
		) VALUES ($1, $2, $3, $4::date, $5, $6, 0, $7, $8, $9, $10, $11, $12)
	`, ticket.TicketID, nullIfEmpty(input.RequestID), ticket.Lane, ticket.Date, ticket.Number,
		ticket.Status, ticket.EmergencyClass, nullIfEmpty(ticket.EmergencyReason),
		nullIfEmpty(ticket.PatientName), nullIfEmpty(ticket.PatientPhone),
		ticket.AccessToken, ticket.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			err = store.ErrConflict
		}
		return models.Ticket{}, err
	}

	if err = insertOutboxEvent(ctx, tx, store.EventTicketCreated, ticket); err != nil {
		return models.Ticket{}, err
	}

	if err = tx.Commit(ctx); err != nil {
		return models.Ticket{}, err
	}
	return ticket, nil
}

func (s *Store) GetTicket(ctx context.Context, ticketID string) (models.Ticket, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+ticketColumns+` FROM tickets WHERE ticket_id = $1`, ticketID)
	ticket, err := scanTicket(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Ticket{}, store.ErrTicketNotFound
		}
		return models.Ticket{}, err
	}
	ticket.AccessToken = ""
	return ticket, nil
}

// AdvanceLane force-completes the lane's current ticket, then promotes
// the scheduler head. Conditional updates resolve racing operator
// consoles: the loser's promotion matches zero rows and surfaces as a
// conflict to re-query, never as a second current ticket.
func (s *Store) AdvanceLane(ctx context.Context, lane models.Lane, date string, now time.Time) (models.Ticket, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.Ticket{}, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	streak, err := dispatchStreak(ctx, tx, lane, date)
	if err != nil {
		return models.Ticket{}, err
	}

	row := tx.QueryRow(ctx, `
		UPDATE tickets
		SET status = 'completed', completed_at = $3
		WHERE lane = $1 AND service_date = $2::date AND status = 'current'
		RETURNING `+ticketColumns+`
	`, lane, date, now)
	finished, err := scanTicket(row)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return models.Ticket{}, err
	}
	if err == nil {
		if err = insertOutboxEvent(ctx, tx, store.EventTicketCompleted, finished); err != nil {
			return models.Ticket{}, err
		}
	}
	err = nil

	waiting, err := listTickets(ctx, tx, lane, date, models.StatusWaiting)
	if err != nil {
		return models.Ticket{}, err
	}
	if len(waiting) == 0 {
		if err = tx.Commit(ctx); err != nil {
			return models.Ticket{}, err
		}
		return models.Ticket{}, store.ErrNoTicket
	}

	head := queue.Order(waiting, streak)[0]

	row = tx.QueryRow(ctx, `
		UPDATE tickets
		SET status = 'current'
		WHERE ticket_id = $1 AND status = 'waiting'
		RETURNING `+ticketColumns+`
	`, head.TicketID)
	promoted, err := scanTicket(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) || isUniqueViolation(err) {
			err = store.ErrConflict
		}
		return models.Ticket{}, err
	}

	if err = updateDispatchStreak(ctx, tx, lane, date, queue.NextStreak(streak, promoted.EmergencyClass)); err != nil {
		return models.Ticket{}, err
	}
	if err = insertOutboxEvent(ctx, tx, store.EventTicketCalled, promoted); err != nil {
		return models.Ticket{}, err
	}

	if err = tx.Commit(ctx); err != nil {
		if isUniqueViolation(err) {
			err = store.ErrConflict
		}
		return models.Ticket{}, err
	}
	promoted.AccessToken = ""
	return promoted, nil
}

func (s *Store) PostponeTicket(ctx context.Context, input store.TicketActionInput) (models.Ticket, string, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.Ticket{}, "", err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	row := tx.QueryRow(ctx, `
		UPDATE tickets
		SET status = CASE WHEN postpone_count + 1 >= $2 THEN 'cancelled' ELSE 'postponed' END,
			postpone_count = postpone_count + 1
		WHERE ticket_id = $1 AND status = 'current'
		RETURNING `+ticketColumns+`
	`, input.TicketID, models.PostponeLimit)
	ticket, err := scanTicket(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			err = s.explainMissedUpdate(ctx, tx, input.TicketID)
		}
		return models.Ticket{}, "", err
	}

	reason := queue.ReasonPostponed
	eventType := store.EventTicketPostponed
	if ticket.Status == models.StatusCancelled {
		reason = queue.ReasonPostponeLimit
		eventType = store.EventTicketCancelled
	}
	if err = insertOutboxEvent(ctx, tx, eventType, ticket); err != nil {
		return models.Ticket{}, "", err
	}

	if err = tx.Commit(ctx); err != nil {
		return models.Ticket{}, "", err
	}
	ticket.AccessToken = ""
	return ticket, reason, nil
}

func (s *Store) CompleteTicket(ctx context.Context, input store.TicketActionInput) (models.Ticket, error) {
	return s.finishTicket(ctx, input, models.StatusCompleted, store.EventTicketCompleted)
}

func (s *Store) CancelTicket(ctx context.Context, input store.TicketActionInput) (models.Ticket, error) {
	return s.finishTicket(ctx, input, models.StatusCancelled, store.EventTicketCancelled)
}

// finishTicket moves a current ticket to a terminal status. A retry that
// finds the ticket already in the desired terminal state succeeds
// without rewriting the row, so completion timestamps are set once.
func (s *Store) finishTicket(ctx context.Context, input store.TicketActionInput, target, eventType string) (models.Ticket, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.Ticket{}, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	var row pgx.Row
	if target == models.StatusCompleted {
		row = tx.QueryRow(ctx, `
			UPDATE tickets
			SET status = 'completed', completed_at = $2
			WHERE ticket_id = $1 AND status = 'current'
			RETURNING `+ticketColumns+`
		`, input.TicketID, input.OccurredAt)
	} else {
		row = tx.QueryRow(ctx, `
			UPDATE tickets
			SET status = 'cancelled'
			WHERE ticket_id = $1 AND status = 'current'
			RETURNING `+ticketColumns+`
		`, input.TicketID)
	}
	ticket, err := scanTicket(row)
	if err != nil {
		if !errors.Is(err, pgx.ErrNoRows) {
			return models.Ticket{}, err
		}
		err = nil
		existing, err2 := loadTicket(ctx, tx, input.TicketID)
		if err2 != nil {
			err = err2
			return models.Ticket{}, err
		}
		if existing.Status != target {
			err = store.ErrInvalidState
			return models.Ticket{}, err
		}
		if err = tx.Commit(ctx); err != nil {
			return models.Ticket{}, err
		}
		existing.AccessToken = ""
		return existing, nil
	}

	if err = insertOutboxEvent(ctx, tx, eventType, ticket); err != nil {
		return models.Ticket{}, err
	}
	if err = tx.Commit(ctx); err != nil {
		return models.Ticket{}, err
	}
	ticket.AccessToken = ""
	return ticket, nil
}

func (s *Store) RecallTicket(ctx context.Context, input store.TicketActionInput) (models.Ticket, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.Ticket{}, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	row := tx.QueryRow(ctx, `
		UPDATE tickets
		SET status = 'waiting'
		WHERE ticket_id = $1 AND status = 'postponed'
		RETURNING `+ticketColumns+`
	`, input.TicketID)
	ticket, err := scanTicket(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			err = s.explainMissedUpdate(ctx, tx, input.TicketID)
		}
		return models.Ticket{}, err
	}

	if err = insertOutboxEvent(ctx, tx, store.EventTicketRecalled, ticket); err != nil {
		return models.Ticket{}, err
	}
	if err = tx.Commit(ctx); err != nil {
		return models.Ticket{}, err
	}
	ticket.AccessToken = ""
	return ticket, nil
}

// ResetDay wipes a service day and reseeds every lane with a fresh
// random starting number, restarting the allocator for that day.
func (s *Store) ResetDay(ctx context.Context, date string) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	for _, table := range []string{"tickets", "lane_counters", "lane_dispatch", "day_settings"} {
		if _, err = tx.Exec(ctx, `DELETE FROM `+table+` WHERE service_date = $1::date`, date); err != nil {
			return err
		}
	}
	if err = ensureDaySettings(ctx, tx, date); err != nil {
		return err
	}
	if err = insertResetEvent(ctx, tx, date); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *Store) StatusByToken(ctx context.Context, token string) (store.TicketStatus, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+ticketColumns+` FROM tickets WHERE access_token = $1`, token)
	ticket, err := scanTicket(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.TicketStatus{}, store.ErrTokenNotFound
		}
		return store.TicketStatus{}, err
	}

	waiting, err := listTicketsPool(ctx, s.pool, ticket.Lane, ticket.Date, models.StatusWaiting)
	if err != nil {
		return store.TicketStatus{}, err
	}
	streak, err := dispatchStreakPool(ctx, s.pool, ticket.Lane, ticket.Date)
	if err != nil {
		return store.TicketStatus{}, err
	}

	status := store.TicketStatus{
		TicketID:      ticket.TicketID,
		Lane:          ticket.Lane,
		Number:        ticket.Number,
		Status:        ticket.Status,
		PostponeCount: ticket.PostponeCount,
		TotalWaiting:  len(waiting),
	}
	if ticket.Status == models.StatusWaiting {
		status.Position = queue.Position(waiting, streak, ticket.TicketID)
	}

	var serving sql.NullInt32
	row = s.pool.QueryRow(ctx, `
		SELECT ticket_number FROM tickets
		WHERE lane = $1 AND service_date = $2::date AND status = 'current'
	`, ticket.Lane, ticket.Date)
	if err := row.Scan(&serving); err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return store.TicketStatus{}, err
	}
	if serving.Valid {
		status.CurrentServing = int(serving.Int32)
	}
	return status, nil
}

func (s *Store) SnapshotLanes(ctx context.Context, date string) ([]store.LaneSnapshot, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+ticketColumns+` FROM tickets
		WHERE service_date = $1::date AND status IN ('waiting', 'current', 'postponed')
		ORDER BY ticket_number ASC
	`, date)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	byLane := make(map[models.Lane][]models.Ticket)
	for rows.Next() {
		ticket, err := scanTicket(rows)
		if err != nil {
			return nil, err
		}
		ticket.AccessToken = ""
		byLane[ticket.Lane] = append(byLane[ticket.Lane], ticket)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	streaks, err := dispatchStreaks(ctx, s.pool, date)
	if err != nil {
		return nil, err
	}

	snapshots := make([]store.LaneSnapshot, 0, len(models.Lanes()))
	for _, lane := range models.Lanes() {
		snapshot := store.LaneSnapshot{Lane: lane, Waiting: []models.Ticket{}, Postponed: []models.Ticket{}}
		for _, ticket := range byLane[lane] {
			switch ticket.Status {
			case models.StatusCurrent:
				current := ticket
				snapshot.Current = &current
			case models.StatusPostponed:
				snapshot.Postponed = append(snapshot.Postponed, ticket)
			}
		}
		snapshot.Waiting = queue.Order(byLane[lane], streaks[lane])
		snapshots = append(snapshots, snapshot)
	}
	return snapshots, nil
}

// explainMissedUpdate turns a zero-row conditional update into the
// right sentinel: not-found for an unknown id, invalid-state when the
// ticket exists but its status failed the precondition.
func (s *Store) explainMissedUpdate(ctx context.Context, tx pgx.Tx, ticketID string) error {
	if _, err := loadTicket(ctx, tx, ticketID); err != nil {
		return err
	}
	return store.ErrInvalidState
}

func findTicketByRequestID(ctx context.Context, tx pgx.Tx, requestID string) (models.Ticket, bool, error) {
	row := tx.QueryRow(ctx, `SELECT `+ticketColumns+` FROM tickets WHERE request_id = $1`, requestID)
	ticket, err := scanTicket(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Ticket{}, false, nil
		}
		return models.Ticket{}, false, err
	}
	return ticket, true, nil
}

func loadTicket(ctx context.Context, tx pgx.Tx, ticketID string) (models.Ticket, error) {
	row := tx.QueryRow(ctx, `SELECT `+ticketColumns+` FROM tickets WHERE ticket_id = $1`, ticketID)
	ticket, err := scanTicket(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Ticket{}, store.ErrTicketNotFound
		}
		return models.Ticket{}, err
	}
	return ticket, nil
}

// ensureDaySettings generates the day's random starting numbers for
// every lane in one statement. ON CONFLICT DO NOTHING keeps the first
// write stable under concurrent intake.
func ensureDaySettings(ctx context.Context, tx pgx.Tx, date string) error {
	lanes := make([]string, 0, len(models.Lanes()))
	for _, lane := range models.Lanes() {
		lanes = append(lanes, string(lane))
	}
	_, err := tx.Exec(ctx, `
		INSERT INTO day_settings (service_date, lane, start_number)
		SELECT $1::date, lane, ($2 + floor(random() * $3))::int
		FROM unnest($4::text[]) AS lane
		ON CONFLICT (service_date, lane) DO NOTHING
	`, date, models.StartNumberMin, models.StartNumberMax-models.StartNumberMin+1, lanes)
	return err
}

// nextTicketNumber is the allocator's single atomic step: the first
// call for a (lane, date) seeds the counter from the day settings and
// returns the seed, every later call increments in place. No caller
// ever reads the counter and writes it back.
func nextTicketNumber(ctx context.Context, tx pgx.Tx, lane models.Lane, date string) (int, error) {
	var number int
	row := tx.QueryRow(ctx, `
		INSERT INTO lane_counters (service_date, lane, last_number)
		VALUES ($1::date, $2, (
			SELECT start_number FROM day_settings
			WHERE service_date = $1::date AND lane = $2
		))
		ON CONFLICT (service_date, lane)
		DO UPDATE SET last_number = lane_counters.last_number + 1
		RETURNING last_number
	`, date, lane)
	if err := row.Scan(&number); err != nil {
		return 0, err
	}
	return number, nil
}

func dispatchStreak(ctx context.Context, tx pgx.Tx, lane models.Lane, date string) (int, error) {
	var streak int
	row := tx.QueryRow(ctx, `
		SELECT regular_streak FROM lane_dispatch
		WHERE service_date = $1::date AND lane = $2
	`, date, lane)
	if err := row.Scan(&streak); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, nil
		}
		return 0, err
	}
	return streak, nil
}

func dispatchStreakPool(ctx context.Context, pool *pgxpool.Pool, lane models.Lane, date string) (int, error) {
	var streak int
	row := pool.QueryRow(ctx, `
		SELECT regular_streak FROM lane_dispatch
		WHERE service_date = $1::date AND lane = $2
	`, date, lane)
	if err := row.Scan(&streak); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, nil
		}
		return 0, err
	}
	return streak, nil
}

func dispatchStreaks(ctx context.Context, pool *pgxpool.Pool, date string) (map[models.Lane]int, error) {
	rows, err := pool.Query(ctx, `
		SELECT lane, regular_streak FROM lane_dispatch WHERE service_date = $1::date
	`, date)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	streaks := make(map[models.Lane]int)
	for rows.Next() {
		var lane models.Lane
		var streak int
		if err := rows.Scan(&lane, &streak); err != nil {
			return nil, err
		}
		streaks[lane] = streak
	}
	return streaks, rows.Err()
}

func updateDispatchStreak(ctx context.Context, tx pgx.Tx, lane models.Lane, date string, streak int) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO lane_dispatch (service_date, lane, regular_streak)
		VALUES ($1::date, $2, $3)
		ON CONFLICT (service_date, lane) DO UPDATE SET regular_streak = $3
	`, date, lane, streak)
	return err
}

func listTickets(ctx context.Context, tx pgx.Tx, lane models.Lane, date, status string) ([]models.Ticket, error) {
	rows, err := tx.Query(ctx, `
		SELECT `+ticketColumns+` FROM tickets
		WHERE lane = $1 AND service_date = $2::date AND status = $3
		ORDER BY ticket_number ASC
	`, lane, date, status)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectTickets(rows)
}

func listTicketsPool(ctx context.Context, pool *pgxpool.Pool, lane models.Lane, date, status string) ([]models.Ticket, error) {
	rows, err := pool.Query(ctx, `
		SELECT `+ticketColumns+` FROM tickets
		WHERE lane = $1 AND service_date = $2::date AND status = $3
		ORDER BY ticket_number ASC
	`, lane, date, status)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectTickets(rows)
}

func collectTickets(rows pgx.Rows) ([]models.Ticket, error) {
	var tickets []models.Ticket
	for rows.Next() {
		ticket, err := scanTicket(rows)
		if err != nil {
			return nil, err
		}
		tickets = append(tickets, ticket)
	}
	return tickets, rows.Err()
}

func scanTicket(row pgx.Row) (models.Ticket, error) {
	var ticket models.Ticket
	var day time.Time
	var reasonNull, nameNull, phoneNull sql.NullString
	var completedNull sql.NullTime
	if err := row.Scan(&ticket.TicketID, &ticket.Lane, &day, &ticket.Number, &ticket.Status,
		&ticket.PostponeCount, &ticket.EmergencyClass, &reasonNull, &nameNull, &phoneNull,
		&ticket.AccessToken, &ticket.CreatedAt, &completedNull); err != nil {
		return models.Ticket{}, err
	}
	ticket.Date = day.Format(models.DateFormat)
	if reasonNull.Valid {
		ticket.EmergencyReason = reasonNull.String
	}
	if nameNull.Valid {
		ticket.PatientName = nameNull.String
	}
	if phoneNull.Valid {
		ticket.PatientPhone = phoneNull.String
	}
	if completedNull.Valid {
		completedAt := completedNull.Time
		ticket.CompletedAt = &completedAt
	}
	return ticket, nil
}

func nullIfEmpty(value string) interface{} {
	if value == "" {
		return nil
	}
	return value
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
