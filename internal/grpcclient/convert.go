package grpcclient

import (
	"time"

	"google.golang.org/protobuf/types/known/structpb"
)

func listStrings(l *structpb.ListValue) []string {
	out := make([]string, 0, len(l.GetValues()))
	for _, v := range l.GetValues() {
		out = append(out, v.GetStringValue())
	}
	return out
}

func toLastSeen(s *structpb.Struct) LastSeen {
	f := s.GetFields()
	res := LastSeen{
		UserID: f["user_id"].GetStringValue(),
		Status: f["status"].GetStringValue(),
		Found:  f["found"].GetBoolValue(),
	}
	if sec := int64(f["last_seen"].GetNumberValue()); sec > 0 {
		res.LastSeen = time.Unix(sec, 0).UTC()
	}
	return res
}
