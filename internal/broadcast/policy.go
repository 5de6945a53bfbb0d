package broadcast

import "temple-safety/models"

// Route says where an event goes besides its own site topic. An empty
// Global means the event is site-scoped only.
type Route struct {
	Global models.EventName
}

var policy = map[models.EventName]Route{
	models.EventOccupancyUpdate:       {Global: models.EventGlobalOccupancyUpdate},
	models.EventEmergencyAlert:        {Global: models.EventEmergencyAlert},
	models.EventCrowdAlert:            {Global: models.EventGlobalAlert},
	models.EventEmergencyStatusUpdate: {},
	models.EventQueueUpdate:           {},
	models.EventQueueCall:             {},
	models.EventSiteStatusUpdate:      {},
}

func RouteFor(name models.EventName) (Route, bool) {
	r, ok := policy[name]
	return r, ok
}
