package main

import (
	"context"
	"flag"
	"fmt"
	"strings"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-booking/internal/appointment"
	"github.com/hackgods/clinic-booking/internal/auth"
	"github.com/hackgods/clinic-booking/internal/config"
	"github.com/hackgods/clinic-booking/internal/db"
	"github.com/hackgods/clinic-booking/internal/logging"
)

var specializations = []string{
	"Dermatology",
	"Cardiology",
	"General Practice",
	"Orthopedics",
	"Endocrinology",
	"Neurology",
	"Pediatrics",
	"Psychiatry",
	"Ophthalmology",
	"ENT",
}

type seeded struct {
	admin     uuid.UUID
	providers []uuid.UUID // user ids
	users     []uuid.UUID
}

func main() {
	providers := flag.Int("providers", 10, "providers to create")
	users := flag.Int("users", 200, "patients to create")
	days := flag.Int("days", 7, "days of slots to create, starting tomorrow")
	tokens := flag.Int("tokens", 3, "patient tokens to print")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		bootLog := logging.New("dev", "info")
		bootLog.Fatal().Err(err).Msg("config load error")
	}
	log := logging.New(cfg.Env, cfg.LogLevel)
	log.Info().Int("providers", *providers).Int("users", *users).Int("days", *days).Msg("seed starting")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	pool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN, db.PoolOptions{AppName: "seed"})
	if err != nil {
		log.Fatal().Err(err).Msg("connect postgres")
	}
	defer pool.Close()

	var out seeded

	out.admin, err = insertUser(ctx, pool, gofakeit.Name(), uniqueEmail("admin", 0), appointment.RoleAdmin)
	if err != nil {
		log.Fatal().Err(err).Msg("seed admin")
	}

	providerIDs, err := seedProviders(ctx, pool, log, *providers, &out)
	if err != nil {
		log.Fatal().Err(err).Msg("seed providers")
	}

	if err := seedUsers(ctx, pool, log, *users, &out); err != nil {
		log.Fatal().Err(err).Msg("seed users")
	}

	if err := seedSlots(ctx, pool, log, providerIDs, *days); err != nil {
		log.Fatal().Err(err).Msg("seed slots")
	}

	printTokens(cfg.JWTSecret, out, *tokens)
	log.Info().Msg("seed complete")
}

type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

func insertUser(ctx context.Context, q execer, name, email string, role appointment.Role) (uuid.UUID, error) {
	id := uuid.New()
	_, err := q.Exec(ctx, `
		INSERT INTO users (id, name, email, role, created_at, updated_at)
		VALUES ($1, $2, $3, $4, now(), now())
	`, id, name, email, string(role))
	return id, err
}

func uniqueEmail(prefix string, i int) string {
	return fmt.Sprintf("%s.%s.%d@clinic.test", prefix, strings.ToLower(gofakeit.Username()), i)
}

func seedProviders(ctx context.Context, pool *pgxpool.Pool, log zerolog.Logger, count int, out *seeded) ([]uuid.UUID, error) {
	log.Info().Int("count", count).Msg("seeding providers")

	ids := make([]uuid.UUID, 0, count)
	err := pgx.BeginFunc(ctx, pool, func(tx pgx.Tx) error {
		for i := 0; i < count; i++ {
			userID, err := insertUser(ctx, tx, "Dr. "+gofakeit.Name(), uniqueEmail("dr", i), appointment.RoleProvider)
			if err != nil {
				return err
			}

			id := uuid.New()
			spec := specializations[gofakeit.Number(0, len(specializations)-1)]
			if _, err := tx.Exec(ctx, `
				INSERT INTO providers (id, user_id, specialization, phone, created_at, updated_at)
				VALUES ($1, $2, $3, $4, now(), now())
			`, id, userID, spec, gofakeit.Phone()); err != nil {
				return err
			}

			ids = append(ids, id)
			out.providers = append(out.providers, userID)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	log.Info().Msg("providers seeded")
	return ids, nil
}

func seedUsers(ctx context.Context, pool *pgxpool.Pool, log zerolog.Logger, count int, out *seeded) error {
	log.Info().Int("count", count).Msg("seeding users")

	const batchSize = 500

	for offset := 0; offset < count; offset += batchSize {
		end := min(offset+batchSize, count)

		err := pgx.BeginFunc(ctx, pool, func(tx pgx.Tx) error {
			for i := offset; i < end; i++ {
				id, err := insertUser(ctx, tx, gofakeit.Name(), uniqueEmail("pt", i), appointment.RoleUser)
				if err != nil {
					return err
				}
				out.users = append(out.users, id)
			}
			return nil
		})
		if err != nil {
			return err
		}

		log.Info().Int("done", end).Int("total", count).Msg("users seeded")
	}

	return nil
}

// seedSlots gives every provider half-hour windows from 09:00 to 12:00 on
// each of the next days.
func seedSlots(ctx context.Context, pool *pgxpool.Pool, log zerolog.Logger, providerIDs []uuid.UUID, days int) error {
	windows := [][2]string{
		{"09:00", "09:30"}, {"09:30", "10:00"}, {"10:00", "10:30"},
		{"10:30", "11:00"}, {"11:00", "11:30"}, {"11:30", "12:00"},
	}
	today := time.Now().UTC()

	batch := &pgx.Batch{}
	for _, providerID := range providerIDs {
		for d := 1; d <= days; d++ {
			date := today.AddDate(0, 0, d).Format("2006-01-02")
			for _, w := range windows {
				batch.Queue(`
					INSERT INTO appointment_slots (id, provider_id, slot_date, start_time, end_time, is_available, created_at, updated_at)
					VALUES ($1, $2, $3, $4, $5, true, now(), now())
				`, uuid.New(), providerID, date, w[0], w[1])
			}
		}
	}

	if err := pool.SendBatch(ctx, batch).Close(); err != nil {
		return err
	}

	log.Info().Int("count", batch.Len()).Msg("slots seeded")
	return nil
}

func printTokens(secret string, out seeded, patients int) {
	const ttl = 24 * time.Hour

	issue := func(label string, id uuid.UUID, role appointment.Role) {
		token, err := auth.IssueToken(secret, auth.Identity{UserID: id, Role: string(role)}, ttl)
		if err != nil {
			fmt.Printf("%-10s %s  (token error: %v)\n", label, id, err)
			return
		}
		fmt.Printf("%-10s %s\n           %s\n", label, id, token)
	}

	fmt.Println("\nDev bearer tokens (valid 24h):")
	issue("admin", out.admin, appointment.RoleAdmin)
	if len(out.providers) > 0 {
		issue("provider", out.providers[0], appointment.RoleProvider)
	}
	for i := 0; i < patients && i < len(out.users); i++ {
		issue(fmt.Sprintf("user #%d", i+1), out.users[i], appointment.RoleUser)
	}
}
