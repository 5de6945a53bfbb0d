package broadcast

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"temple-safety/internal/status"
	"temple-safety/models"
)

func testEvent(name models.EventName, siteID string) models.Event {
	return models.Event{Name: name, SiteID: siteID, Payload: map[string]any{"n": 1}, Timestamp: time.Now()}
}

func drain(sub *Subscription) []Envelope {
	var out []Envelope
	for {
		select {
		case env, ok := <-sub.Events():
			if !ok {
				return out
			}
			out = append(out, env)
		default:
			return out
		}
	}
}

func TestBus_PublishIsTopicScoped(t *testing.T) {
	bus := NewBus(8, nil)
	site1 := bus.Subscribe(SiteTopic("s1"))
	site2 := bus.Subscribe(SiteTopic("s2"))
	global := bus.Subscribe(GlobalTopic)

	delivered := bus.Publish(SiteTopic("s1"), testEvent(models.EventQueueUpdate, "s1"))

	assert.Equal(t, 1, delivered)
	assert.Len(t, drain(site1), 1)
	assert.Empty(t, drain(site2))
	assert.Empty(t, drain(global))
}

func TestBus_DispatchDualPublishes(t *testing.T) {
	tests := []struct {
		event      models.EventName
		globalName models.EventName
	}{
		{models.EventOccupancyUpdate, models.EventGlobalOccupancyUpdate},
		{models.EventEmergencyAlert, models.EventEmergencyAlert},
		{models.EventCrowdAlert, models.EventGlobalAlert},
	}

	for _, tt := range tests {
		t.Run(string(tt.event), func(t *testing.T) {
			bus := NewBus(8, nil)
			site := bus.Subscribe(SiteTopic("s1"))
			global := bus.Subscribe(GlobalTopic)

			require.NoError(t, bus.Dispatch(testEvent(tt.event, "s1")))

			siteEvents := drain(site)
			globalEvents := drain(global)
			require.Len(t, siteEvents, 1)
			require.Len(t, globalEvents, 1)
			assert.Equal(t, tt.event, siteEvents[0].Event.Name)
			assert.Equal(t, tt.globalName, globalEvents[0].Event.Name)
			assert.Equal(t, GlobalTopic, globalEvents[0].Topic)
			assert.Equal(t, "s1", globalEvents[0].Event.SiteID)
		})
	}
}

func TestBus_DispatchSiteOnly(t *testing.T) {
	for _, name := range []models.EventName{
		models.EventQueueUpdate,
		models.EventQueueCall,
		models.EventEmergencyStatusUpdate,
		models.EventSiteStatusUpdate,
	} {
		t.Run(string(name), func(t *testing.T) {
			bus := NewBus(8, nil)
			site := bus.Subscribe(SiteTopic("s1"))
			global := bus.Subscribe(GlobalTopic)

			require.NoError(t, bus.Dispatch(testEvent(name, "s1")))

			assert.Len(t, drain(site), 1)
			assert.Empty(t, drain(global))
		})
	}
}

func TestBus_DispatchRejectsUnroutedEvents(t *testing.T) {
	bus := NewBus(8, nil)

	err := bus.Dispatch(testEvent(models.EventGlobalOccupancyUpdate, "s1"))
	assert.ErrorIs(t, err, status.ErrInvalidInput)

	err = bus.Dispatch(testEvent(models.EventQueueUpdate, ""))
	assert.ErrorIs(t, err, status.ErrInvalidInput)
}

func TestBus_DropsWhenSubscriberIsFull(t *testing.T) {
	bus := NewBus(1, nil)
	slow := bus.Subscribe(SiteTopic("s1"))
	fast := bus.Subscribe(SiteTopic("s1"))

	for i := 0; i < 3; i++ {
		bus.Publish(SiteTopic("s1"), testEvent(models.EventQueueUpdate, "s1"))
		drain(fast)
	}

	assert.Equal(t, uint64(2), slow.Dropped())
	assert.Equal(t, uint64(0), fast.Dropped())
	assert.Len(t, drain(slow), 1)
}

func TestBus_NoReplayForLateSubscribers(t *testing.T) {
	bus := NewBus(8, nil)
	bus.Publish(GlobalTopic, testEvent(models.EventEmergencyAlert, "s1"))

	late := bus.Subscribe(GlobalTopic)
	assert.Empty(t, drain(late))
}

func TestBus_SubscribeAll(t *testing.T) {
	bus := NewBus(8, nil)
	all := bus.SubscribeAll()

	require.NoError(t, bus.Dispatch(testEvent(models.EventOccupancyUpdate, "s1")))

	events := drain(all)
	require.Len(t, events, 2)
	assert.ElementsMatch(t, []string{SiteTopic("s1"), GlobalTopic}, []string{events[0].Topic, events[1].Topic})
}

func TestBus_CloseSubscription(t *testing.T) {
	bus := NewBus(8, nil)
	sub := bus.Subscribe(GlobalTopic)

	sub.Close()
	sub.Close()

	_, ok := <-sub.Events()
	assert.False(t, ok)
	assert.Equal(t, 0, bus.Publish(GlobalTopic, testEvent(models.EventEmergencyAlert, "s1")))
	assert.Equal(t, 0, bus.SubscriberCount())
}

func TestBus_Close(t *testing.T) {
	bus := NewBus(8, nil)
	sub := bus.Subscribe(GlobalTopic)

	bus.Close()

	_, ok := <-sub.Events()
	assert.False(t, ok)
	assert.NotPanics(t, func() { sub.Close() })

	late := bus.Subscribe(GlobalTopic)
	_, ok = <-late.Events()
	assert.False(t, ok)
}

func TestPolicy_CoversSiteEvents(t *testing.T) {
	for _, name := range []models.EventName{
		models.EventOccupancyUpdate,
		models.EventQueueUpdate,
		models.EventQueueCall,
		models.EventEmergencyAlert,
		models.EventEmergencyStatusUpdate,
		models.EventCrowdAlert,
		models.EventSiteStatusUpdate,
	} {
		_, ok := RouteFor(name)
		assert.True(t, ok, name)
	}
	_, ok := RouteFor(models.EventGlobalAlert)
	assert.False(t, ok)
}
