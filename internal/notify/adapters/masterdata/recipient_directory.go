package masterdata

import (
	"context"
	"errors"

	masterdata "building-cloud/internal/masterdata/domain"
	"building-cloud/internal/notify/channels"
)

// DeviceLister lists registered push devices of a tenant.
type DeviceLister interface {
	ListByTenant(ctx context.Context, tenantID string) ([]masterdata.PushDevice, error)
}

// RecipientDirectory joins residents with their apartment and push devices.
type RecipientDirectory struct {
	residents  masterdata.ResidentReader
	apartments masterdata.ApartmentReader
	devices    DeviceLister
}

// NewRecipientDirectory constructs a directory. Devices may be nil.
func NewRecipientDirectory(residents masterdata.ResidentReader, apartments masterdata.ApartmentReader, devices DeviceLister) (*RecipientDirectory, error) {
	if residents == nil {
		return nil, errors.New("recipient directory: nil residents")
	}
	if apartments == nil {
		return nil, errors.New("recipient directory: nil apartments")
	}
	return &RecipientDirectory{residents: residents, apartments: apartments, devices: devices}, nil
}

// Recipients lists active residents in registry order.
func (d *RecipientDirectory) Recipients(ctx context.Context, tenantID string) ([]channels.Recipient, error) {
	residents, err := d.residents.ListActive(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	if len(residents) == 0 {
		return nil, nil
	}
	apartments, err := d.apartments.ListByTenant(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	labels := make(map[string]string, len(apartments))
	for _, apt := range apartments {
		labels[apt.ID] = apt.Label()
	}

	expo := make(map[string][]string)
	fcm := make(map[string][]string)
	if d.devices != nil {
		devices, err := d.devices.ListByTenant(ctx, tenantID)
		if err != nil {
			return nil, err
		}
		for _, device := range devices {
			switch device.Platform {
			case masterdata.PlatformExpo:
				expo[device.ResidentID] = append(expo[device.ResidentID], device.Token)
			case masterdata.PlatformFCM:
				fcm[device.ResidentID] = append(fcm[device.ResidentID], device.Token)
			}
		}
	}

	out := make([]channels.Recipient, 0, len(residents))
	for _, res := range residents {
		if !res.Active {
			continue
		}
		out = append(out, channels.Recipient{
			ID:             res.ID,
			TenantID:       res.TenantID,
			FullName:       res.FullName,
			ApartmentID:    res.ApartmentID,
			ApartmentLabel: labels[res.ApartmentID],
			Email:          res.Email,
			Phone:          res.Phone,
			PushTokens:     expo[res.ID],
			TopicTokens:    fcm[res.ID],
		})
	}
	return out, nil
}
