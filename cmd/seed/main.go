package main

import (
	"context"
	"flag"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/EvgeniiGolubev/backend-test-task/config"
	"github.com/EvgeniiGolubev/backend-test-task/db"
	"github.com/EvgeniiGolubev/backend-test-task/services"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/sirupsen/logrus"
)

// seed заполняет базу случайными пользователями, подписками и постами
func main() {
	var (
		configPath string
		total      int
		follows    int
		acceptRate float64
		workers    int
	)
	flag.StringVar(&configPath, "config", "config.yaml", "Path to the configuration file")
	flag.IntVar(&total, "users", 1000, "Number of users to create")
	flag.IntVar(&follows, "follows", 5, "Subscriptions per user")
	flag.Float64Var(&acceptRate, "accept", 0.5, "Share of subscriptions accepted by the channel")
	flag.IntVar(&workers, "workers", 5, "Concurrent workers")
	flag.Parse()

	if err := config.LoadConfig(configPath); err != nil {
		logrus.WithError(err).Fatal("failed to load configuration")
	}
	if err := db.ConnectDB(config.AppConfig); err != nil {
		logrus.WithError(err).Fatal("failed to connect to the database")
	}
	defer db.Close()

	ctx := context.Background()
	users := services.NewUserService(db.ORM)
	posts := services.NewPostService(db.ORM)
	engine := services.NewRelationEngine(services.NewGormRelationStore(db.ORM))

	ids := createUsers(ctx, users, posts, total, workers)
	logrus.WithField("users", len(ids)).Info("users created")
	if len(ids) < 2 {
		return
	}

	var created, accepted, failed int64
	runParallel(len(ids), workers, func(i int) {
		follower := ids[i]
		for j := 0; j < follows; j++ {
			channel := ids[rand.Intn(len(ids))]
			if channel == follower {
				continue
			}
			if err := engine.SetFollowing(ctx, follower, channel, true); err != nil {
				atomic.AddInt64(&failed, 1)
				logrus.WithError(err).Debug("follow failed")
				continue
			}
			atomic.AddInt64(&created, 1)
			if rand.Float64() < acceptRate {
				if err := engine.RespondToFollower(ctx, channel, follower, true); err != nil {
					atomic.AddInt64(&failed, 1)
					continue
				}
				atomic.AddInt64(&accepted, 1)
			}
		}
	})

	logrus.WithFields(logrus.Fields{
		"subscriptions": created,
		"accepted":      accepted,
		"failed":        failed,
	}).Info("seed finished")
}

func createUsers(ctx context.Context, users *services.UserService, posts *services.PostService, total, workers int) []int64 {
	var (
		mu  sync.Mutex
		ids = make([]int64, 0, total)
	)
	runParallel(total, workers, func(i int) {
		name := gofakeit.FirstName()
		nickname := fmt.Sprintf("%s_%s", strings.ToLower(name), gofakeit.Numerify("######"))
		user, err := users.Register(ctx, services.RegisterParams{
			Email:     nickname + "@" + gofakeit.DomainName(),
			Nickname:  nickname,
			Password:  gofakeit.Password(true, false, true, true, false, 10),
			FirstName: name,
			LastName:  gofakeit.LastName(),
		})
		if err != nil {
			logrus.WithError(err).WithField("n", i).Warn("failed to register user")
			return
		}
		if _, err := posts.CreatePost(ctx, user.ID, gofakeit.BookTitle(), gofakeit.Quote()); err != nil {
			logrus.WithError(err).WithField("user_id", user.ID).Warn("failed to create post")
		}
		mu.Lock()
		ids = append(ids, user.ID)
		mu.Unlock()
	})
	return ids
}

// runParallel вызывает fn для 0..n-1, не больше workers одновременно
func runParallel(n, workers int, fn func(i int)) {
	if workers <= 0 {
		workers = 1
	}
	var wg sync.WaitGroup
	sem := make(chan struct{}, workers)
	for i := 0; i < n; i++ {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int) {
			defer wg.Done()
			defer func() { <-sem }()
			fn(i)
		}(i)
	}
	wg.Wait()
}
