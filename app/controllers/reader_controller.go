package controllers

import (
	"errors"
	"log"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/mkang-dev/ToonGate/internal/pkg/catalog"
	"github.com/mkang-dev/ToonGate/internal/pkg/content"
	"github.com/mkang-dev/ToonGate/internal/pkg/entitlements"
	"github.com/mkang-dev/ToonGate/internal/pkg/metrics/counter"
	"github.com/mkang-dev/ToonGate/internal/pkg/paysession"
	"github.com/mkang-dev/ToonGate/internal/pkg/usercontext"
)

// HandleComic shows a comic's episode list with per-episode lock state. The
// entitlement is fetched once and the pure gate runs per episode.
func HandleComic(c *fiber.Ctx) error {
	comicID, err := c.ParamsInt("id")
	if err != nil || comicID <= 0 {
		return fiber.ErrNotFound
	}

	provider := getContentProvider()
	comic, err := provider.GetComic(c.Context(), uint(comicID))
	if err != nil {
		if errors.Is(err, content.ErrComicNotFound) {
			return fiber.ErrNotFound
		}
		log.Printf("comic load failed: %v", err)
		return fiber.ErrInternalServerError
	}

	episodes, err := provider.ListEpisodes(c.Context(), uint(comicID))
	if err != nil {
		log.Printf("episode list failed: %v", err)
		return fiber.ErrInternalServerError
	}

	ent := readerEntitlement(c)
	active := ent.ActiveAt(time.Now())

	type episodeView struct {
		Index  int
		Title  string
		Locked bool
	}
	views := make([]episodeView, 0, len(episodes))
	for i, ep := range episodes {
		views = append(views, episodeView{
			Index:  i,
			Title:  ep.Title,
			Locked: !entitlements.CanAccessEpisode(i, content.FreePreviewLimit, active),
		})
	}

	userCtx := usercontext.GetUserContext(c)
	return c.Render("comic", fiber.Map{
		"Title":    comic.Title,
		"Comic":    comic,
		"Episodes": views,
		"Active":   active,
		"Tier":     string(ent.Tier),
		"LoggedIn": userCtx.IsLoggedIn,
		"Username": userCtx.Username,
	}, "layouts/main")
}

// HandleEpisode is the page gate: free-preview episodes are always readable,
// everything beyond requires an active entitlement.
func HandleEpisode(c *fiber.Ctx) error {
	comicID, err := c.ParamsInt("id")
	if err != nil || comicID <= 0 {
		return fiber.ErrNotFound
	}
	index, err := c.ParamsInt("index")
	if err != nil || index < 0 {
		return fiber.ErrNotFound
	}

	provider := getContentProvider()
	comic, err := provider.GetComic(c.Context(), uint(comicID))
	if err != nil {
		if errors.Is(err, content.ErrComicNotFound) {
			return fiber.ErrNotFound
		}
		log.Printf("comic load failed: %v", err)
		return fiber.ErrInternalServerError
	}

	episodes, err := provider.ListEpisodes(c.Context(), uint(comicID))
	if err != nil {
		log.Printf("episode list failed: %v", err)
		return fiber.ErrInternalServerError
	}
	if index >= len(episodes) {
		return fiber.ErrNotFound
	}

	ent := readerEntitlement(c)
	if !entitlements.CanAccessEpisode(index, content.FreePreviewLimit, ent.ActiveAt(time.Now())) {
		// Denied readers land on the paywall, not a bare 403.
		reg := getRegionResolver().Resolve(c.Context(), GetClientIP(c))
		_, dayPassPrice := catalog.GetPlan("daypass", reg.IsDomestic)
		_, memberPrice := catalog.GetPlan("membership", reg.IsDomestic)
		return c.Status(fiber.StatusForbidden).Render("paywall", fiber.Map{
			"Title":        "Unlock this episode",
			"Comic":        comic,
			"Episode":      episodes[index],
			"Index":        index,
			"LoggedIn":     usercontext.IsLoggedIn(c),
			"DayPassPrice": catalog.FormatPrice(dayPassPrice.Amount, dayPassPrice.Currency),
			"MemberPrice":  catalog.FormatPrice(memberPrice.Amount, memberPrice.Currency),
		}, "layouts/main")
	}

	episode := episodes[index]
	if err := counter.AddEpisodeView(episode.ID); err != nil {
		log.Printf("episode view counter failed: %v", err)
	}

	userCtx := usercontext.GetUserContext(c)
	return c.Render("episode", fiber.Map{
		"Title":    comic.Title + " - " + episode.Title,
		"Comic":    comic,
		"Episode":  episode,
		"Index":    index,
		"Total":    len(episodes),
		"LoggedIn": userCtx.IsLoggedIn,
		"Username": userCtx.Username,
	}, "layouts/main")
}

// readerEntitlement resolves the caller's entitlement once per request:
// subscription row for accounts, day-pass row for cookie-only readers.
func readerEntitlement(c *fiber.Ctx) entitlements.Entitlement {
	svc := getBillingService()
	if usercontext.IsLoggedIn(c) {
		ent, err := svc.GetEntitlement(c.Context(), usercontext.GetUserID(c))
		if err != nil {
			log.Printf("entitlement read failed: %v", err)
			return entitlements.Entitlement{Tier: entitlements.TierFree}
		}
		return ent
	}

	token := paysession.Read(c)
	ent, err := svc.GetAnonymousEntitlement(c.Context(), token)
	if err != nil {
		log.Printf("anonymous entitlement read failed: %v", err)
		return entitlements.Entitlement{Tier: entitlements.TierFree}
	}
	return ent
}
