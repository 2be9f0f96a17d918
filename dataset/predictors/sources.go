package predictors

import "fmt"

// Source names.
const (
	SourceCBCL         = "cbcl"
	SourceBPMYouth     = "bpm_youth"
	SourceBPMTeacher   = "bpm_teacher"
	SourceUPPS         = "upps"
	SourceBISBAS       = "bisbas"
	SourcePPS          = "pps"
	SourceFESYouth     = "fes_youth"
	SourcePMQ          = "pmq"
	SourceNeighborhood = "neighborhood"
	SourceSleep        = "sleep"
	SourceScreenTime   = "screen_time"
	SourceDemographics = "demographics"
	SourceSchool       = "school"
)

// Administrative and categorical columns referenced by later stages.
const (
	InterviewDate  = "interview_date"
	SexAtBirth     = "kbi_sex_assigned_at_birth"
	Gender         = "kbi_gender"
	SexOrientation = "kbi_y_sex_orient"
	TransID        = "kbi_y_trans_id"
	DetentionSusp  = "kbi_p_c_det_susp"
	SchoolProblem  = "kbi_p_c_school_problem"

	// TeacherPrefix is the column family of the teacher-report BPM.
	TeacherPrefix = "bpm_t_"
)

// PPSBotherSentinel marks a bother item whose stem was answered "no".
const PPSBotherSentinel = 999

// DefaultSources returns the thirteen questionnaire schemas in join order.
func DefaultSources() []Source {
	return []Source{
		{
			Name: SourceCBCL,
			File: "abcd_cbcls01.csv",
			Keep: []string{
				"cbcl_scr_syn_anxdep_r",
				"cbcl_scr_syn_withdep_r",
				"cbcl_scr_syn_somatic_r",
				"cbcl_scr_syn_social_r",
				"cbcl_scr_syn_thought_r",
				"cbcl_scr_syn_attention_r",
				"cbcl_scr_syn_rulebreak_r",
				"cbcl_scr_syn_aggressive_r",
				"cbcl_scr_syn_internal_r",
				"cbcl_scr_syn_external_r",
				"cbcl_scr_syn_totprob_r",
			},
		},
		{
			Name: SourceBPMYouth,
			File: "abcd_yssbpm01.csv",
			Keep: []string{
				"bpm_y_scr_attention_r",
				"bpm_y_scr_internal_r",
				"bpm_y_scr_external_r",
				"bpm_y_scr_totalprob_r",
			},
		},
		{
			Name: SourceBPMTeacher,
			File: "abcd_ssbpmtf01.csv",
			Keep: []string{
				"bpm_t_scr_attention_r",
				"bpm_t_scr_internal_r",
				"bpm_t_scr_external_r",
				"bpm_t_scr_totalprob_r",
			},
		},
		{
			Name: SourceUPPS,
			File: "abcd_upps01.csv",
			Keep: []string{
				"upps_y_ss_negative_urgency",
				"upps_y_ss_lack_of_planning",
				"upps_y_ss_sensation_seeking",
				"upps_y_ss_positive_urgency",
				"upps_y_ss_lack_of_perseverance",
			},
		},
		{
			Name: SourceBISBAS,
			File: "abcd_bisbas01.csv",
			Sums: []Sum{
				{
					Output:  "bis_y_ss_bis_sum",
					Items:   items("bisbas%d_y", 1, 2, 3, 4, 5, 6, 7),
					Reverse: map[string]float64{"bisbas2_y": 3, "bisbas4_y": 3},
				},
				{Output: "bis_y_ss_bas_rr", Items: items("bisbas%d_y", 8, 9, 10, 11, 12)},
				{Output: "bis_y_ss_bas_drive", Items: items("bisbas%d_y", 13, 14, 15, 16)},
				{Output: "bis_y_ss_bas_fs", Items: items("bisbas%d_y", 17, 18, 19, 20)},
			},
		},
		{
			Name: SourcePPS,
			File: "pps01.csv",
			Sums: []Sum{
				{Output: "pps_y_ss_number", Items: rangeItems("prodromal_%d_y", 1, 21)},
				{
					Output:    "pps_y_ss_severity_score",
					Items:     append(rangeItems("prodromal_%d_y", 1, 21), rangeItems("prodromal_%db_y", 1, 21)...),
					Sentinels: map[float64]float64{PPSBotherSentinel: 0},
				},
			},
		},
		{
			Name: SourceFESYouth,
			File: "abcd_fes01.csv",
			Gates: []QualityGate{
				{
					Output:   "fes_y_ss_fc",
					Raw:      "fes_y_ss_fc",
					NoAnswer: "fes_y_ss_fc_nm",
					Total:    "fes_y_ss_fc_nt",
					MaxRatio: 0.15,
				},
			},
		},
		{
			Name: SourcePMQ,
			File: "pmq01.csv",
			Sums: []Sum{
				{Output: "pmq_y_ss_sum", Items: rangeItems("parent_monitor_q%d_y", 1, 5)},
			},
		},
		{
			Name: SourceNeighborhood,
			File: "abcd_pnsc01.csv",
			Sums: []Sum{
				{
					Output:  "nsc_p_ss_sum",
					Items:   rangeItems("neighborhood%dr_p", 1, 3),
					Reverse: map[string]float64{"neighborhood3r_p": 6},
				},
			},
		},
		{
			Name: SourceSleep,
			File: "abcd_sds01.csv",
			Keep: []string{
				"sds_p_ss_dims",
				"sds_p_ss_sbd",
				"sds_p_ss_da",
				"sds_p_ss_swtd",
				"sds_p_ss_does",
				"sds_p_ss_shy",
			},
		},
		{
			Name: SourceScreenTime,
			File: "abcd_stq01.csv",
			Sums: []Sum{
				{Output: "stq_y_weekday_total", Items: rangeItems("screen%d_wkdy_y", 1, 4)},
				{Output: "stq_y_weekend_total", Items: rangeItems("screen%d_wknd_y", 7, 10)},
			},
		},
		{
			Name: SourceDemographics,
			File: "abcd_ksad501_kbi.csv",
			Text: []string{InterviewDate},
			Keep: []string{SexAtBirth, Gender, SexOrientation, TransID},
		},
		{
			Name: SourceSchool,
			File: "abcd_ksad01_school.csv",
			Keep: []string{"kbi_p_grades_in_school", DetentionSusp, SchoolProblem},
			// 1 = yes, 2 = no in the export.
			Recode: map[string]map[float64]float64{
				DetentionSusp: {2: 0},
				SchoolProblem: {2: 0},
			},
		},
	}
}

func items(format string, nums ...int) []string {
	out := make([]string, len(nums))
	for i, n := range nums {
		out[i] = fmt.Sprintf(format, n)
	}
	return out
}

func rangeItems(format string, from, to int) []string {
	out := make([]string, 0, to-from+1)
	for n := from; n <= to; n++ {
		out = append(out, fmt.Sprintf(format, n))
	}
	return out
}
