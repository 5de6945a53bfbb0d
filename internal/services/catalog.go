package services

import "temple-safety/models"

// Scenario is one category of synthetic emergency.
type Scenario struct {
	Type         models.EmergencyType
	Severity     models.Severity
	Descriptions []string
}

var scenarios = []Scenario{
	{
		Type:     models.EmergencyMedical,
		Severity: models.SeverityHigh,
		Descriptions: []string{
			"Pilgrim experiencing chest pain near main entrance",
			"Elderly visitor collapsed in the main courtyard",
			"Child with breathing difficulties in queue area",
			"Person showing signs of heat stroke near temple steps",
			"Medical emergency - visitor fell and injured leg",
		},
	},
	{
		Type:     models.EmergencySecurity,
		Severity: models.SeverityMedium,
		Descriptions: []string{
			"Suspicious package found near security checkpoint",
			"Unattended bag reported in visitor waiting area",
			"Argument between visitors escalating near main gate",
			"Lost child reported by family in temple premises",
			"Security breach - unauthorized access attempted",
		},
	},
	{
		Type:     models.EmergencyCrowd,
		Severity: models.SeverityHigh,
		Descriptions: []string{
			"Overcrowding detected in main darshan area",
			"Queue management system malfunction causing backup",
			"Crowd surge reported near temple entrance",
			"Bottleneck forming at narrow passage points",
			"Emergency evacuation path blocked by crowd",
		},
	},
	{
		Type:     models.EmergencyFire,
		Severity: models.SeverityCritical,
		Descriptions: []string{
			"Small fire detected in electrical room",
			"Smoke reported from kitchen area",
			"Electrical short circuit causing sparks",
			"Overheated equipment in control room",
			"Fire alarm triggered in storage facility",
		},
	},
	{
		Type:     models.EmergencyStructural,
		Severity: models.SeverityMedium,
		Descriptions: []string{
			"Cracks noticed in temple wall structure",
			"Loose railing reported on elevated platform",
			"Water leakage affecting electrical systems",
			"Damaged flooring creating trip hazard",
			"Structural concern raised about ancient pillar",
		},
	},
	{
		Type:     models.EmergencyOther,
		Severity: models.SeverityLow,
		Descriptions: []string{
			"Power outage in visitor facilities",
			"Water supply disruption in restroom area",
			"Audio system malfunction during prayer time",
			"Lighting failure in main corridor",
			"Temperature control system not working",
		},
	},
}

// Guide Ramesh Bhai reports anonymously, without a phone.
var reporters = []models.Reporter{
	{Name: "Security Guard Raj", Phone: "+91-9876543210"},
	{Name: "Visitor Priya Sharma", Phone: "+91-9123456789"},
	{Name: "Temple Staff Kumar", Phone: "+91-8765432109"},
	{Name: "Volunteer Amit Patel", Phone: "+91-7654321098"},
	{Name: "Pilgrim Sita Devi", Phone: "+91-6543210987"},
	{Name: "Guide Ramesh Bhai", Phone: ""},
	{Name: "Maintenance Staff", Phone: "+91-9988776655"},
	{Name: "Anonymous Reporter", Phone: "+91-8877665544"},
	{Name: "Temple Administrator", Phone: "+91-7766554433"},
	{Name: "First Aid Volunteer", Phone: "+91-6655443322"},
}

// Scenarios returns a copy of the synthetic emergency catalog.
func Scenarios() []Scenario {
	out := make([]Scenario, len(scenarios))
	copy(out, scenarios)
	return out
}

func Reporters() []models.Reporter {
	out := make([]models.Reporter, len(reporters))
	copy(out, reporters)
	return out
}
