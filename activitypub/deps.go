package activitypub

import (
	"errors"
	"net/http"
	"time"

	"github.com/Toromino/kibou-sub000/domain"
	"github.com/google/uuid"
)

// Database defines the persistence operations required by the ActivityPub package.
// This interface allows for dependency injection and testing with mock implementations.
type Database interface {
	// Actor operations
	ReadActorByURI(uri string) (error, *domain.Actor)
	ReadLocalActorByUsername(username string) (error, *domain.Actor)
	ReadActorByAcct(acct string) (error, *domain.Actor)
	CreateActor(actor *domain.Actor) error
	UpdateActorRefresh(actor *domain.Actor) error
	DeleteActorByURI(uri string) error

	// Follower set operations
	AddFollower(actorURI string, entry domain.FollowerEntry) error
	RemoveFollower(actorURI string, href string) error
	IsFollowedBy(followeeURI string, followerURI string) (error, bool)
	ReadFolloweesOf(actorURI string) (error, []string)

	// Activity operations
	CreateActivity(activity *domain.Activity) error
	ReadActivityByActivityURI(uri string) (error, *domain.Activity)
	ReadActivityByObjectURI(objectURI string) (error, *domain.Activity)
	ReadRepliesByObjectURI(objectURI string) (error, *[]domain.Activity)
	CountReactionsByObjectURI(activityType string, objectURI string) (error, int)
	DeleteActivityByActivityURI(uri string) error
	DeleteActivityByObjectURI(objectURI string) error

	// Delivery queue operations
	CreateDeliveryQueueItem(item *domain.DeliveryQueueItem) error
	ReadPendingDeliveries(now time.Time, limit int) (error, []domain.DeliveryQueueItem)
	UpdateDeliveryAttempt(id uuid.UUID, attempts int, nextRetryAt time.Time) error
	DeleteDeliveryQueueItem(id uuid.UUID) error
}

// HTTPClient defines the HTTP client operations required by the ActivityPub package.
// This interface allows for dependency injection and testing with mock implementations.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Deps bundles the injectable dependencies of the federation engine.
type Deps struct {
	Database   Database
	HTTPClient HTTPClient
}

// DefaultDeps returns the production dependencies: the database singleton
// and the shared outbound HTTP client.
func DefaultDeps() *Deps {
	return &Deps{
		Database:   NewDBWrapper(),
		HTTPClient: defaultHTTPClient,
	}
}

// maxRedirects caps redirect chains on outbound fetches.
const maxRedirects = 5

// outboundTimeout is the deadline for any single outbound HTTP request.
const outboundTimeout = 30 * time.Second

// DefaultHTTPClient is the default HTTP client used in production
type DefaultHTTPClient struct {
	client *http.Client
}

// NewDefaultHTTPClient creates a new default HTTP client with the specified timeout
func NewDefaultHTTPClient(timeout time.Duration) *DefaultHTTPClient {
	return &DefaultHTTPClient{
		client: &http.Client{
			Timeout: timeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= maxRedirects {
					return errors.New("too many redirects")
				}
				return nil
			},
		},
	}
}

// Do executes the HTTP request
func (c *DefaultHTTPClient) Do(req *http.Request) (*http.Response, error) {
	return c.client.Do(req)
}

var defaultHTTPClient HTTPClient = NewDefaultHTTPClient(outboundTimeout)
