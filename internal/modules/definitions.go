package modules

import (
	"errors"
	"fmt"

	"sitekit_datastore/internal/api"
	"sitekit_datastore/internal/report"
	"sitekit_datastore/internal/settings"
)

// Module slugs
const (
	SlugAnalytics       = "analytics"
	SlugSearchConsole   = "search-console"
	SlugAdSense         = "adsense"
	SlugPageSpeed       = "pagespeed-insights"
	SlugTagManager      = "tagmanager"
	SlugIdeaHub         = "idea-hub"
	SlugSubscribeWithGo = "subscribe-with-google"
)

// OwnerID is shared by every module
var OwnerID = settings.NewField[int]("ownerID")

// Analytics settings
var (
	AnalyticsAccountID             = settings.NewField[string]("accountID")
	AnalyticsPropertyID            = settings.NewField[string]("propertyID")
	AnalyticsProfileID             = settings.NewField[string]("profileID")
	AnalyticsInternalWebPropertyID = settings.NewField[string]("internalWebPropertyID")
	AnalyticsUseSnippet            = settings.NewField[bool]("useSnippet")
	AnalyticsCanUseSnippet         = settings.NewField[bool]("canUseSnippet")
	AnalyticsAnonymizeIP           = settings.NewField[bool]("anonymizeIP")
	AnalyticsTrackingDisabled      = settings.NewField[[]string]("trackingDisabled")
	AnalyticsAdsenseLinked         = settings.NewField[bool]("adsenseLinked")
)

// Search Console settings
var SearchConsolePropertyID = settings.NewField[string]("propertyID")

// AdSense settings
var (
	AdSenseAccountID            = settings.NewField[string]("accountID")
	AdSenseClientID             = settings.NewField[string]("clientID")
	AdSenseUseSnippet           = settings.NewField[bool]("useSnippet")
	AdSenseAccountStatus        = settings.NewField[string]("accountStatus")
	AdSenseSiteStatus           = settings.NewField[string]("siteStatus")
	AdSenseAccountSetupComplete = settings.NewField[bool]("accountSetupComplete")
	AdSenseSiteSetupComplete    = settings.NewField[bool]("siteSetupComplete")
	AdSenseWebStoriesAdUnit     = settings.NewField[string]("webStoriesAdUnit")
)

// Tag Manager settings
var (
	TagManagerAccountID              = settings.NewField[string]("accountID")
	TagManagerContainerID            = settings.NewField[string]("containerID")
	TagManagerAMPContainerID         = settings.NewField[string]("ampContainerID")
	TagManagerInternalContainerID    = settings.NewField[string]("internalContainerID")
	TagManagerInternalAMPContainerID = settings.NewField[string]("internalAMPContainerID")
	TagManagerUseSnippet             = settings.NewField[bool]("useSnippet")
	TagManagerGAPropertyID           = settings.NewField[string]("gaPropertyID")
)

// Idea Hub settings
var IdeaHubTOSAccepted = settings.NewField[bool]("tosAccepted")

// Subscribe with Google settings
var (
	SubscribeWithGooglePublicationID = settings.NewField[string]("publicationID")
	SubscribeWithGoogleProducts      = settings.NewField[[]string]("products")
)

// Definition is everything needed to build one module's stores
type Definition struct {
	Slug     string
	Name     string
	Settings []string
	// Report is nil for modules without a report datapoint
	Report *report.Definition
}

// Definitions returns the built-in modules in menu order
func Definitions() []Definition {
	return []Definition{
		{
			Slug: SlugSearchConsole,
			Name: "Search Console",
			Settings: settings.Names(
				SearchConsolePropertyID, OwnerID,
			),
			Report: &report.Definition{
				Type:       api.TypeModules,
				Identifier: SlugSearchConsole,
				Datapoint:  "searchanalytics",
				Validate:   requireDates,
			},
		},
		{
			Slug: SlugAnalytics,
			Name: "Analytics",
			Settings: settings.Names(
				AnalyticsAccountID, AnalyticsPropertyID, AnalyticsProfileID,
				AnalyticsInternalWebPropertyID, AnalyticsUseSnippet, AnalyticsCanUseSnippet,
				AnalyticsAnonymizeIP, AnalyticsTrackingDisabled, AnalyticsAdsenseLinked, OwnerID,
			),
			Report: &report.Definition{
				Type:       api.TypeModules,
				Identifier: SlugAnalytics,
				Datapoint:  "report",
				Validate:   all(requireDates, requireKey("metrics")),
			},
		},
		{
			Slug: SlugAdSense,
			Name: "AdSense",
			Settings: settings.Names(
				AdSenseAccountID, AdSenseClientID, AdSenseUseSnippet, AdSenseAccountStatus,
				AdSenseSiteStatus, AdSenseAccountSetupComplete, AdSenseSiteSetupComplete,
				AdSenseWebStoriesAdUnit, OwnerID,
			),
			Report: &report.Definition{
				Type:       api.TypeModules,
				Identifier: SlugAdSense,
				Datapoint:  "earnings",
				Validate:   all(requireDates, requireKey("metrics")),
			},
		},
		{
			Slug:     SlugPageSpeed,
			Name:     "PageSpeed Insights",
			Settings: settings.Names(OwnerID),
			Report: &report.Definition{
				Type:       api.TypeModules,
				Identifier: SlugPageSpeed,
				Datapoint:  "pagespeed",
				Validate:   all(requireKey("url"), requireStrategy),
			},
		},
		{
			Slug: SlugTagManager,
			Name: "Tag Manager",
			Settings: settings.Names(
				TagManagerAccountID, TagManagerContainerID, TagManagerAMPContainerID,
				TagManagerInternalContainerID, TagManagerInternalAMPContainerID,
				TagManagerUseSnippet, TagManagerGAPropertyID, OwnerID,
			),
		},
		{
			Slug:     SlugIdeaHub,
			Name:     "Idea Hub",
			Settings: settings.Names(IdeaHubTOSAccepted, OwnerID),
		},
		{
			Slug: SlugSubscribeWithGo,
			Name: "Subscribe with Google",
			Settings: settings.Names(
				SubscribeWithGooglePublicationID, SubscribeWithGoogleProducts, OwnerID,
			),
		},
	}
}

// ----------------------------------------------------
// ================ Report option checks ================

func all(checks ...func(report.Options) error) func(report.Options) error {
	return func(o report.Options) error {
		for _, check := range checks {
			if err := check(o); err != nil {
				return err
			}
		}
		return nil
	}
}

func requireKey(key string) func(report.Options) error {
	return func(o report.Options) error {
		v, ok := o[key]
		if !ok || v == nil || v == "" {
			return fmt.Errorf("%s is required", key)
		}
		return nil
	}
}

// requireDates accepts either a dateRange or both startDate and endDate
func requireDates(o report.Options) error {
	if _, ok := o["dateRange"]; ok {
		return nil
	}
	_, hasStart := o["startDate"]
	_, hasEnd := o["endDate"]
	if hasStart && hasEnd {
		return nil
	}
	return errors.New("dateRange or startDate and endDate are required")
}

func requireStrategy(o report.Options) error {
	switch o["strategy"] {
	case "mobile", "desktop":
		return nil
	default:
		return errors.New("strategy must be mobile or desktop")
	}
}
