package statistics

import (
	"fmt"
	"log"
	"strconv"
	"sync"
	"time"

	"github.com/mkang-dev/ToonGate/app/models"
	"github.com/mkang-dev/ToonGate/internal/pkg/cache"
	"github.com/mkang-dev/ToonGate/internal/pkg/database"
)

const (
	CacheKeyUsers         = "statistics:users:total"
	CacheKeyActiveSubs    = "statistics:subscriptions:active"
	CacheKeyDayPassesSold = "statistics:daypasses:daily:%s" // format with date YYYY-MM-DD
	CacheExpiration       = 30 * time.Minute
)

// StatisticsData holds the aggregate numbers shown on the landing page.
type StatisticsData struct {
	TotalUsers          int
	ActiveSubscriptions int
	DayPassesSoldToday  int
}

var (
	lastCacheUpdate     time.Time
	cacheUpdateMutex    sync.Mutex
	cacheUpdateInterval = 5 * time.Minute
)

// ShouldUpdateCache reports whether the refresh interval has elapsed.
func ShouldUpdateCache() bool {
	cacheUpdateMutex.Lock()
	defer cacheUpdateMutex.Unlock()

	return time.Since(lastCacheUpdate) > cacheUpdateInterval
}

// UpdateCacheIfNeeded refreshes the cached statistics at most once per interval.
func UpdateCacheIfNeeded() {
	if ShouldUpdateCache() {
		cacheUpdateMutex.Lock()
		defer cacheUpdateMutex.Unlock()

		if err := UpdateStatisticsCache(); err != nil {
			log.Printf("failed to update statistics cache: %v", err)
		} else {
			lastCacheUpdate = time.Now()
		}
	}
}

// ResetCacheUpdateTimer forces the next read to refresh the cache.
func ResetCacheUpdateTimer() {
	cacheUpdateMutex.Lock()
	defer cacheUpdateMutex.Unlock()

	lastCacheUpdate = time.Time{}
}

// UpdateStatisticsCache recomputes all statistics and stores them in the cache.
func UpdateStatisticsCache() error {
	db := database.GetDB()

	var totalUsers int64
	if err := db.Model(&models.User{}).Count(&totalUsers).Error; err != nil {
		log.Printf("error counting users: %v", err)
		return err
	}

	// Active means the stored row still carries a future end date; rows whose
	// status was never flipped after expiry are excluded the same way the read
	// path excludes them.
	var activeSubs int64
	if err := db.Model(&models.Subscription{}).
		Where("status = ? AND (end_date IS NULL OR end_date > ?)", models.SubscriptionStatusActive, time.Now()).
		Count(&activeSubs).Error; err != nil {
		log.Printf("error counting active subscriptions: %v", err)
		return err
	}

	today := time.Now().Format("2006-01-02")
	todayStart, _ := time.Parse("2006-01-02", today)
	todayEnd := todayStart.Add(24 * time.Hour)

	var passesToday int64
	if err := db.Model(&models.AnonymousDayPass{}).
		Where("created_at BETWEEN ? AND ?", todayStart, todayEnd).
		Count(&passesToday).Error; err != nil {
		log.Printf("error counting day passes sold today: %v", err)
		return err
	}

	if err := cache.Set(CacheKeyUsers, strconv.FormatInt(totalUsers, 10), CacheExpiration); err != nil {
		return err
	}
	if err := cache.Set(CacheKeyActiveSubs, strconv.FormatInt(activeSubs, 10), CacheExpiration); err != nil {
		return err
	}
	dailyKey := fmt.Sprintf(CacheKeyDayPassesSold, today)
	if err := cache.Set(dailyKey, strconv.FormatInt(passesToday, 10), CacheExpiration); err != nil {
		return err
	}

	return nil
}

// GetTotalUsers returns the user count from cache, falling back to the database.
func GetTotalUsers() int {
	return cachedInt(CacheKeyUsers, func() (int64, error) {
		var count int64
		err := database.GetDB().Model(&models.User{}).Count(&count).Error
		return count, err
	})
}

func cachedInt(key string, compute func() (int64, error)) int {
	if val, err := cache.Get(key); err == nil {
		if count, perr := strconv.ParseInt(val, 10, 64); perr == nil {
			return int(count)
		}
	}

	count, err := compute()
	if err != nil {
		log.Printf("statistics query failed for %s: %v", key, err)
		return 0
	}
	if err := cache.Set(key, strconv.FormatInt(count, 10), CacheExpiration); err != nil {
		log.Printf("error caching %s: %v", key, err)
	}
	return int(count)
}

// GetStatisticsData returns all statistics, refreshing the cache when stale.
func GetStatisticsData() StatisticsData {
	UpdateCacheIfNeeded()

	today := time.Now().Format("2006-01-02")
	return StatisticsData{
		TotalUsers: cachedInt(CacheKeyUsers, func() (int64, error) {
			var count int64
			err := database.GetDB().Model(&models.User{}).Count(&count).Error
			return count, err
		}),
		ActiveSubscriptions: cachedInt(CacheKeyActiveSubs, func() (int64, error) {
			var count int64
			err := database.GetDB().Model(&models.Subscription{}).
				Where("status = ? AND (end_date IS NULL OR end_date > ?)", models.SubscriptionStatusActive, time.Now()).
				Count(&count).Error
			return count, err
		}),
		DayPassesSoldToday: cachedInt(fmt.Sprintf(CacheKeyDayPassesSold, today), func() (int64, error) {
			var count int64
			todayStart, _ := time.Parse("2006-01-02", today)
			err := database.GetDB().Model(&models.AnonymousDayPass{}).
				Where("created_at BETWEEN ? AND ?", todayStart, todayStart.Add(24*time.Hour)).
				Count(&count).Error
			return count, err
		}),
	}
}
