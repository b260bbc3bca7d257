package repository

var (
	NewIntegrationStore = newIntegrationStore
	UniqueNumber        = uniqueNumber
)
