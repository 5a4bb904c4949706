package pipeline

import (
	"github.com/Layr-Labs/unichain-indexer/pkg/entityStore"
	"github.com/Layr-Labs/unichain-indexer/pkg/eventBus/eventBusTypes"
	"github.com/Layr-Labs/unichain-indexer/pkg/events"
)

func (p *Pipeline) publish(name string, data any) {
	if p.eventBus == nil {
		return
	}
	p.eventBus.Publish(&eventBusTypes.Event{Name: name, Data: data})
}

func (p *Pipeline) publishCommitted(record *entityStore.CommitRecord) {
	if record == nil {
		return
	}
	p.publish(eventBusTypes.EventName_EventCommitted, &eventBusTypes.EventCommittedData{
		Coordinates: record.Coordinates,
		ChangeRoot:  record.ChangeRoot,
		Changes:     len(record.Versions),
	})
}

func (p *Pipeline) publishRolledBack(coords events.Coordinates, reason string) {
	p.publish(eventBusTypes.EventName_EventRolledBack, &eventBusTypes.EventRolledBackData{
		Coordinates: coords,
		Reason:      reason,
	})
}

func (p *Pipeline) publishFailed(coords events.Coordinates, err error) {
	p.publish(eventBusTypes.EventName_EventFailed, &eventBusTypes.EventFailedData{
		Coordinates: coords,
		Error:       err.Error(),
	})
}

func (p *Pipeline) publishReorgHandled(reorg *events.Reorg, reverted []events.Coordinates) {
	p.publish(eventBusTypes.EventName_ReorgHandled, &eventBusTypes.ReorgHandledData{
		Reorg:    *reorg,
		Reverted: reverted,
	})
}
