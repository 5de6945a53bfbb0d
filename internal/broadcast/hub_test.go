package broadcast

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"temple-safety/models"
	"temple-safety/utils"
)

func TestTopicsFromQuery(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/ws?site=a,b&site=c&global=1", nil)
	assert.Equal(t, []string{"site:a", "site:b", "site:c", GlobalTopic}, TopicsFromQuery(r))

	r = httptest.NewRequest(http.MethodGet, "/ws?global=false", nil)
	assert.Empty(t, TopicsFromQuery(r))
}

func TestHub_RejectsRequestWithoutTopics(t *testing.T) {
	hub := NewHub(NewBus(8, nil), nil)
	rec := httptest.NewRecorder()

	hub.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ws", nil))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHub_StreamsSubscribedTopics(t *testing.T) {
	bus := NewBus(8, nil)
	hub := NewHub(bus, nil)
	srv := httptest.NewServer(hub)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?site=s1&global=1"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return bus.SubscriberCount() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, hub.ClientCount())

	require.NoError(t, bus.Dispatch(testEvent(models.EventOccupancyUpdate, "s1")))
	require.NoError(t, bus.Dispatch(testEvent(models.EventQueueUpdate, "s2")))

	var got []Envelope
	for i := 0; i < 2; i++ {
		var env struct {
			Topic string `json:"topic"`
			Data  struct {
				Event  string `json:"event"`
				SiteID string `json:"siteId"`
			} `json:"data"`
		}
		_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		require.NoError(t, conn.ReadJSON(&env))
		got = append(got, Envelope{Topic: env.Topic, Event: models.Event{Name: models.EventName(env.Data.Event), SiteID: env.Data.SiteID}})
	}

	assert.ElementsMatch(t, []string{"site:s1", GlobalTopic}, []string{got[0].Topic, got[1].Topic})
	assert.ElementsMatch(t,
		[]models.EventName{models.EventOccupancyUpdate, models.EventGlobalOccupancyUpdate},
		[]models.EventName{got[0].Event.Name, got[1].Event.Name})

	hub.Shutdown()
	require.Eventually(t, func() bool { return hub.ClientCount() == 0 }, time.Second, 5*time.Millisecond)
}

func TestHub_ClientDisconnectReleasesSubscription(t *testing.T) {
	bus := NewBus(8, nil)
	srv := httptest.NewServer(NewHub(bus, nil))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"?global=true", nil)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return bus.SubscriberCount() == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, conn.Close())

	require.Eventually(t, func() bool { return bus.SubscriberCount() == 0 }, 2*time.Second, 5*time.Millisecond)
}

type recordingPublisher struct {
	mu       sync.Mutex
	channels []string
	err      error
}

func (p *recordingPublisher) Publish(_ context.Context, channel string, _ any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.channels = append(p.channels, channel)
	return p.err
}

func (p *recordingPublisher) calls() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.channels...)
}

func TestRelay_Channel(t *testing.T) {
	relay := NewRelay(NewBus(8, nil), &recordingPublisher{}, nil, "temple-safety", nil)
	assert.Equal(t, "temple-safety-site-somnath", relay.Channel(SiteTopic("somnath")))
	assert.Equal(t, "temple-safety-global", relay.Channel(GlobalTopic))

	bare := NewRelay(NewBus(8, nil), &recordingPublisher{}, nil, "", nil)
	assert.Equal(t, "site-somnath", bare.Channel(SiteTopic("somnath")))
}

func TestRelay_ForwardsBothTopics(t *testing.T) {
	bus := NewBus(8, nil)
	pub := &recordingPublisher{}
	relay := NewRelay(bus, pub, nil, "ts", nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		relay.Run(ctx)
		close(done)
	}()
	require.Eventually(t, func() bool { return bus.SubscriberCount() == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, bus.Dispatch(testEvent(models.EventEmergencyAlert, "s1")))

	require.Eventually(t, func() bool { return len(pub.calls()) == 2 }, time.Second, 5*time.Millisecond)
	assert.ElementsMatch(t, []string{"ts-site-s1", "ts-global"}, pub.calls())

	cancel()
	<-done
	assert.Equal(t, 0, bus.SubscriberCount())
}

func TestRelay_OpenBreakerSkipsPublisher(t *testing.T) {
	bus := NewBus(8, nil)
	pub := &recordingPublisher{err: errors.New("403 forbidden")}
	breaker := utils.NewCircuitBreakerWithSettings("pubnub", utils.BreakerSettings{MinRequests: 1, Timeout: time.Hour})
	relay := NewRelay(bus, pub, breaker, "ts", nil)

	for i := 0; i < 3; i++ {
		relay.forward(context.Background(), Envelope{Topic: GlobalTopic, Event: testEvent(models.EventEmergencyAlert, "s1")})
	}

	assert.Len(t, pub.calls(), 1)
	assert.Equal(t, utils.StateOpen, breaker.State())
}
