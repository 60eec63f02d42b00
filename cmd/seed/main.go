package main

import (
	"context"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-queue-scheduling/internal/availability"
	"github.com/hackgods/clinic-queue-scheduling/internal/config"
	"github.com/hackgods/clinic-queue-scheduling/internal/db"
	"github.com/hackgods/clinic-queue-scheduling/internal/logging"
)

const (
	doctorCount  = 25
	patientCount = 2000
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		boot := logging.Init("seed", "dev")
		boot.Fatal().Err(err).Msg("config load error")
	}
	log := logging.Init("seed", cfg.Env)
	log.Info().Msg("seed starting")

	if cfg.StoreDriver != config.StoreDriverPostgres {
		log.Fatal().Msg("seed needs STORE_DRIVER=postgres")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN, cfg.PostgresMaxConn)
	if err != nil {
		log.Fatal().Err(err).Msg("connect postgres")
	}
	defer pool.Close()

	if err := db.Migrate(context.Background(), pool); err != nil {
		log.Fatal().Err(err).Msg("migrate")
	}

	gofakeit.Seed(time.Now().UnixNano())

	if err := seedDoctors(context.Background(), availability.NewPgStore(pool), doctorCount, log); err != nil {
		log.Fatal().Err(err).Msg("seed doctors")
	}
	if err := seedPatients(context.Background(), pool, patientCount, log); err != nil {
		log.Fatal().Err(err).Msg("seed patients")
	}

	log.Info().Msg("seed complete")
}

var specialties = []string{
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

var durations = []int{15, 20, 30}

// fakeWeek opens Monday to Saturday with a mixed morning and an online
// evening; Sunday stays closed.
func fakeWeek() []availability.WeeklyScheduleDay {
	days := make([]availability.WeeklyScheduleDay, 0, 7)
	for wd := time.Sunday; wd <= time.Saturday; wd++ {
		day := availability.WeeklyScheduleDay{Weekday: wd}
		if wd != time.Sunday {
			day.IsAvailable = true
			day.Windows = []availability.TimeWindow{
				{Start: 9 * 60, End: 13 * 60, Type: availability.Both, MaxConcurrent: gofakeit.Number(1, 2)},
				{Start: 17 * 60, End: 20 * 60, Type: availability.Online, MaxConcurrent: 1},
			}
		}
		days = append(days, day)
	}
	return days
}

func seedDoctors(ctx context.Context, store *availability.PgStore, count int, log zerolog.Logger) error {
	log.Info().Int("count", count).Msg("seeding doctors")

	for i := 0; i < count; i++ {
		doc := &availability.Doctor{
			Name:      "Dr. " + gofakeit.Name(),
			Specialty: specialties[gofakeit.Number(0, len(specialties)-1)],
			OnlineFee: int64(gofakeit.Number(3, 10)) * 10000,
			ClinicFee: int64(gofakeit.Number(4, 12)) * 10000,
			Settings: availability.Settings{
				OnlineDuration:  time.Duration(durations[gofakeit.Number(0, len(durations)-1)]) * time.Minute,
				ClinicDuration:  time.Duration(durations[gofakeit.Number(0, len(durations)-1)]) * time.Minute,
				MaxOnlinePerDay: gofakeit.Number(0, 20),
				MaxClinicPerDay: gofakeit.Number(0, 20),
			},
		}
		if err := store.SaveDoctor(ctx, doc); err != nil {
			return err
		}
		for _, day := range fakeWeek() {
			if err := store.SaveWeeklyDay(ctx, doc.ID, day); err != nil {
				return err
			}
		}
		log.Debug().Str("doctor_id", doc.ID.String()).Str("name", doc.Name).Msg("doctor seeded")
	}

	log.Info().Msg("doctors seeded")
	return nil
}

func seedPatients(ctx context.Context, pool *pgxpool.Pool, count int, log zerolog.Logger) error {
	log.Info().Int("count", count).Msg("seeding patients")

	const batchSize = 500

	for offset := 0; offset < count; offset += batchSize {
		end := offset + batchSize
		if end > count {
			end = count
		}

		tx, err := pool.Begin(ctx)
		if err != nil {
			return err
		}

		for i := offset; i < end; i++ {
			_, err := tx.Exec(ctx, `
				INSERT INTO patients (id, name, email, phone, created_at, updated_at)
				VALUES ($1, $2, $3, $4, now(), now())
			`, uuid.New(), gofakeit.Name(), gofakeit.Email(), gofakeit.Phone())
			if err != nil {
				_ = tx.Rollback(ctx)
				return err
			}
		}

		if err := tx.Commit(ctx); err != nil {
			return err
		}

		log.Info().Int("done", end).Int("total", count).Msg("patients seeded")
	}

	return nil
}
